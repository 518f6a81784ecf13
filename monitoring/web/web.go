// Package web holds the dashboard page that the monitor serves at its root.
// The page polls the monitor API for long script entries, tasks and the
// state of the loop.
//
// Release builds serve the copy embedded from dist. Setting
// SCRIPTENTRY_MONITOR_DEV serves files from disk so that the page can be
// edited without rebuilding: "true" or "1" serves this package's dist
// directory, any other value is taken as the directory to serve.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// DevEnv is the environment variable that switches to serving from disk.
const DevEnv = "SCRIPTENTRY_MONITOR_DEV"

//go:embed dist/*
var dashboard embed.FS

// Assets returns the dashboard files. A development directory that cannot be
// served is logged and the embedded copy is used instead.
func Assets(logger log.Logger) http.FileSystem {
	dir, err := devDir()
	if err != nil {
		level.Warn(logger).Log(
			"msg", "serving embedded dashboard",
			"env", DevEnv,
			"err", err,
		)
	}

	if dir != "" && err == nil {
		level.Info(logger).Log("msg", "serving dashboard from disk", "dir", dir)
		return http.Dir(dir)
	}

	return Embedded()
}

// Embedded returns the dashboard compiled into the binary.
func Embedded() http.FileSystem {
	sub, err := fs.Sub(dashboard, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

// devDir resolves the directory named by DevEnv. It returns an empty string
// when development mode is off.
func devDir() (string, error) {
	value, ok := os.LookupEnv(DevEnv)
	if !ok {
		return "", nil
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false":
		return "", nil
	case "1", "true":
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			return "", errors.New("cannot locate the dashboard sources")
		}

		value = filepath.Join(filepath.Dir(file), "dist")
	}

	info, err := os.Stat(value)
	if err != nil {
		return "", errors.Wrap(err, "dashboard directory")
	}

	if !info.IsDir() {
		return "", errors.Errorf("dashboard path %s is not a directory", value)
	}

	return value, nil
}
