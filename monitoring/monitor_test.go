package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-kit/log"
	"github.com/google/pprof/profile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/host"
	"github.com/sarchlab/scriptentry/timeline"
)

const ms = time.Millisecond

// runSample runs two tasks on the loop: one with a long bound handler and one
// whose manual scopes are exited out of order.
func runSample(loop *host.Loop) {
	engine := loop.Engine()

	handler := engine.BindWithOptions(attribution.BindOptions{
		Name:        "onClick",
		InvokerType: attribution.InvokerEventListener,
		Callback: func(...any) (any, error) {
			loop.Busy(4 * ms)
			loop.QueueMicrotask(func(l *host.Loop) { l.Busy(3 * ms) })
			return nil, nil
		},
	})

	loop.PostTask("click", func(*host.Loop) { _, _ = handler() })
	loop.PostTask("misuse", func(l *host.Loop) {
		a := engine.Enter("a", attribution.InvokerUserCallback)
		b := engine.Enter("b", attribution.InvokerUserCallback)
		l.Busy(1 * ms)
		a.Exit()
		b.Exit()
	})

	Expect(loop.Run(context.Background())).To(Succeed())
}

var _ = Describe("Monitor", func() {
	var (
		buffer   *timeline.Buffer
		profiles *timeline.ProfileWriter
		loop     *host.Loop
		m        *Monitor
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		buffer = timeline.NewBuffer(0)
		profiles = timeline.NewProfileWriter()
		loop = host.MakeBuilder().
			WithTimeline(timeline.Multi{buffer, profiles}).
			Build("Loop")

		m = NewMonitor()
		m.RegisterLoop(loop)
		m.RegisterBuffer(buffer)
		m.RegisterProfile(profiles)

		runSample(loop)
	})

	It("should list entries", func() {
		rec := get("/api/entries")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp entriesRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Capacity).To(Equal(timeline.DefaultCapacity))
		Expect(rsp.Entries).To(HaveLen(1))
		Expect(rsp.Entries[0].Name).To(Equal("onClick"))
		Expect(rsp.Entries[0].SelfDuration).To(Equal(7 * ms))
	})

	It("should list tasks and their entries", func() {
		rec := get("/api/tasks")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var tasks []timeline.TaskSummary
		Expect(json.Unmarshal(rec.Body.Bytes(), &tasks)).To(Succeed())
		Expect(tasks).To(HaveLen(1))

		rec = get("/api/tasks/1")
		Expect(rec.Code).To(Equal(http.StatusOK))

		Expect(get("/api/tasks/42").Code).To(Equal(http.StatusNotFound))
	})

	It("should report the current time", func() {
		rec := get("/api/now")

		var rsp map[string]float64
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp["now"]).To(BeNumerically("~", 8.0, 1e-9))
	})

	It("should describe the host", func() {
		rec := get("/api/host")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should serve the long script profile", func() {
		rec := get("/api/profile")
		Expect(rec.Code).To(Equal(http.StatusOK))

		prof, err := profile.Parse(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(prof.Sample).To(HaveLen(1))
	})

	It("should pause and continue the loop", func() {
		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pause", nil))
		Expect(rec.Code).To(Equal(http.StatusNoContent))

		rec = httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/continue", nil))
		Expect(rec.Code).To(Equal(http.StatusNoContent))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("scenario", 2)
		bar.IncrementFinished(2)

		rec := get("/api/progress")

		var bars []ProgressBarStatus
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Finished).To(Equal(uint64(2)))

		m.CompleteProgressBar(bar)
		Expect(get("/api/progress").Body.String()).To(MatchJSON("[]"))
	})

	It("should report resources", func() {
		rec := get("/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("memory_size"))
	})

	It("should serve the page", func() {
		rec := get("/")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should answer 404 without a buffer", func() {
		m = NewMonitor()
		Expect(get("/api/entries").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/now").Code).To(Equal(http.StatusNotFound))
		Expect(get("/metrics").Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Hooks", func() {
	var loop *host.Loop

	BeforeEach(func() {
		loop = host.MakeBuilder().Build("Loop")
	})

	It("should log anomalies and reports", func() {
		out := &bytes.Buffer{}
		loop.Engine().AcceptHook(NewLogHook(log.NewLogfmtLogger(out)))

		runSample(loop)

		Expect(out.String()).To(ContainSubstring(`msg="entry stack corrupted"`))
		Expect(out.String()).To(ContainSubstring(`msg="task reported"`))
		Expect(out.String()).To(ContainSubstring(`name=onClick`))
	})

	It("should export metrics", func() {
		reg := prometheus.NewRegistry()
		h := NewMetricsHook(reg)
		loop.Engine().AcceptHook(h)

		runSample(loop)

		Expect(testutil.ToFloat64(h.corruptions)).To(Equal(1.0))
		Expect(testutil.ToFloat64(h.tasks.WithLabelValues("reported"))).To(Equal(2.0))
		Expect(testutil.ToFloat64(h.longEntries.WithLabelValues("event-listener"))).
			To(Equal(1.0))
		Expect(testutil.ToFloat64(h.entries.WithLabelValues("user-callback", "true"))).
			To(Equal(2.0))

		m := NewMonitor()
		m.RegisterGatherer(reg)

		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Body.String()).To(ContainSubstring("scriptentry_stack_corruptions_total 1"))
	})

	It("should advance progress bars with tasks", func() {
		m := NewMonitor()
		bar := m.CreateProgressBar("scenario", 2)
		loop.AcceptHook(NewProgressHook(bar))

		runSample(loop)

		status := bar.Status()
		Expect(status.Finished).To(Equal(uint64(2)))
		Expect(status.InProgress).To(BeZero())
	})
})
