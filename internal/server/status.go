package server

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/database"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
	"gorm.io/gorm"
)

const statusWriteTimeout = 10 * time.Second

// StatusTracker mirrors the load state of every known extension into the
// extension_statuses table whenever a view is published or an error is
// reported.
type StatusTracker struct {
	db      *gorm.DB
	manager *pluginmodule.Manager
	logger  hclog.Logger

	kick   chan plugins.CapabilityKind
	stop   chan struct{}
	wg     sync.WaitGroup
	unsubs []func()
	once   sync.Once
}

// NewStatusTracker creates a tracker. Start must be called to begin.
func NewStatusTracker(db *gorm.DB, manager *pluginmodule.Manager, logger hclog.Logger) *StatusTracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &StatusTracker{
		db:      db,
		manager: manager,
		logger:  logger.Named("status"),
		kick:    make(chan plugins.CapabilityKind, 16),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to every runtime.
func (t *StatusTracker) Start() {
	for _, kind := range t.manager.Kinds() {
		rt, err := t.manager.Runtime(kind)
		if err != nil {
			continue
		}
		kind := kind
		t.unsubs = append(t.unsubs, rt.Subscribe(func(pluginmodule.View) { t.signal(kind) }))

		errs, unsub := rt.Errors()
		t.unsubs = append(t.unsubs, unsub)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			for {
				select {
				case <-t.stop:
					return
				case _, ok := <-errs:
					if !ok {
						return
					}
					t.signal(kind)
				}
			}
		}()
	}

	t.wg.Add(1)
	go t.loop()
}

// signal never blocks a publishing runtime.
func (t *StatusTracker) signal(kind plugins.CapabilityKind) {
	select {
	case t.kick <- kind:
	default:
	}
}

func (t *StatusTracker) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return
		case kind := <-t.kick:
			t.Sync(kind)
		}
	}
}

// Sync records the status of every known extension of kind.
func (t *StatusTracker) Sync(kind plugins.CapabilityKind) {
	rt, err := t.manager.Runtime(kind)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	for _, e := range rt.Known(ctx) {
		status := database.ExtensionStatus{
			Kind:        string(kind),
			ExtensionID: e.Metadata.ID,
			Origin:      e.Metadata.Origin.String(),
			Version:     e.Metadata.Version,
			State:       stateOf(e),
		}
		if e.State == pluginmodule.StateFailed && e.Handle != nil {
			if err := e.Handle.Err(); err != nil {
				status.LastError = err.Error()
			}
		}
		if err := database.RecordStatus(ctx, t.db, status); err != nil {
			t.logger.Warn("failed to record extension status", "kind", kind, "id", e.Metadata.ID, "error", err)
		}
	}
}

func stateOf(e pluginmodule.Entry) string {
	switch {
	case e.State == pluginmodule.StateFailed:
		return database.StateFailed
	case !e.Metadata.Enabled:
		return database.StateDisabled
	case e.State == pluginmodule.StateLoaded:
		return database.StateLoaded
	}
	return database.StateDiscovered
}

// Stop unsubscribes and waits for pending writes.
func (t *StatusTracker) Stop() {
	t.once.Do(func() {
		for _, unsub := range t.unsubs {
			unsub()
		}
		close(t.stop)
		t.wg.Wait()
	})
}
