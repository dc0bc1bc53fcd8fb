package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roomhub/apiserver/internal/auth"
	"github.com/roomhub/apiserver/internal/db"
	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/store"
)

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (m *recordingMetrics) RecordOperation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string][]string{}
	}
	m.outcomes[operation] = append(m.outcomes[operation], outcome)
}

func (m *recordingMetrics) RecordHTTPStatus(int) {}

type testEnv struct {
	conn      *sql.DB
	users     *store.UserRepository
	rooms     *store.RoomRepository
	hasher    *auth.Hasher
	publisher *recordingPublisher
	metrics   *recordingMetrics
	hook      *logtest.Hook
	opts      Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	require.NoError(t, db.ApplySQLite(ctx, conn))
	t.Cleanup(func() { _ = conn.Close() })

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		conn:      conn,
		users:     store.NewUserRepository(conn, db.SQLite),
		rooms:     store.NewRoomRepository(conn, db.SQLite),
		hasher:    hasher,
		publisher: &recordingPublisher{},
		metrics:   &recordingMetrics{},
		hook:      hook,
	}
	env.opts = Options{
		Logger:  logger,
		Metrics: env.metrics,
		Events:  env.publisher,
		Now:     func() time.Time { return fixedNow },
	}
	return env
}

func (e *testEnv) accounts() *AccountService {
	return NewAccountService(e.users, e.hasher, e.opts)
}

func (e *testEnv) roomService() *RoomService {
	return NewRoomService(e.rooms, e.users, e.opts)
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
