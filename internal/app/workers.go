package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const workerStopTimeout = 5 * time.Second

// backgroundWorker запущенный фоновый цикл и способ его остановить.
type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// startWorker запускает run в отдельной горутине с собственным контекстом.
func startWorker(ctx context.Context, name string, run func(ctx context.Context), logger *log.Entry) backgroundWorker {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	logger.WithField("worker", name).Info("worker started")
	return backgroundWorker{name: name, cancel: cancel, done: done}
}

// shutdownWorker отменяет контекст воркера и ждёт завершения текущего цикла.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(workerStopTimeout):
		logger.Warn("worker did not stop within timeout")
	}
}

// stopWorkers останавливает воркеры в обратном порядке запуска.
func stopWorkers(workers []backgroundWorker, logger *log.Entry) {
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		shutdownWorker(w.cancel, w.done, logger.WithField("worker", w.name))
	}
}
