package web

import (
	"errors"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vitalwatch/platform/pkg/common/logger"
)

type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) WriteHeader(int) {}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestPageLogsFailedWrites(t *testing.T) {
	hook := test.NewLocal(logger.Log)
	defer hook.Reset()
	level := logger.Log.GetLevel()
	logger.Log.SetLevel(logrus.DebugLevel)
	defer logger.Log.SetLevel(level)

	rd, err := newRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	rd.page(&brokenWriter{}, http.StatusOK, "landing.html", landingPage{Title: "Welcome"})

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel || entry.Data[logrus.ErrorKey] == nil {
		t.Fatalf("failed write not logged: %+v", entry)
	}
	if entry.Data["template"] != "landing.html" {
		t.Fatalf("entry fields = %v", entry.Data)
	}
}
