package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *repository.GORMRepository {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewGORMRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

// createUser stores a user with the given balances. Zero balances are
// written after create because the column default would otherwise apply.
func createUser(t *testing.T, repo *repository.GORMRepository, email string, documents, interviews int) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Email: email, Password: "x", DocumentCredits: documents, InterviewCredits: interviews}
	require.NoError(t, repo.CreateUser(ctx, user))
	require.NoError(t, repo.DB().Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"document_credits":  documents,
		"interview_credits": interviews,
	}).Error)
	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	return stored
}

func createAdmin(t *testing.T, repo *repository.GORMRepository, email string) *models.User {
	t.Helper()
	user := createUser(t, repo, email, 0, 0)
	require.NoError(t, repo.SetUserAdmin(context.Background(), user.ID, true))
	user.IsAdmin = true
	return user
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type llmCall struct {
	instruction string
	prompt      string
	json        bool
}

// fakeLLM answers from textFn and jsonFn and records every call.
type fakeLLM struct {
	mu     sync.Mutex
	calls  []llmCall
	textFn func(instruction, prompt string) (string, error)
	jsonFn func(instruction, prompt string) (string, error)
}

func (f *fakeLLM) GenerateText(ctx context.Context, instruction, prompt string) (string, error) {
	f.record(llmCall{instruction: instruction, prompt: prompt})
	if f.textFn == nil {
		return "generated text", nil
	}
	return f.textFn(instruction, prompt)
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, instruction, prompt string) (string, error) {
	f.record(llmCall{instruction: instruction, prompt: prompt, json: true})
	if f.jsonFn == nil {
		return `{}`, nil
	}
	return f.jsonFn(instruction, prompt)
}

func (f *fakeLLM) record(c llmCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeLLM) Calls() []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llmCall(nil), f.calls...)
}

// fakeRenderer returns the source bytes as the "image", failing for any
// source containing failOn.
type fakeRenderer struct {
	failOn string
}

func (r *fakeRenderer) Render(ctx context.Context, source string) ([]byte, error) {
	if r.failOn != "" && strings.Contains(source, r.failOn) {
		return nil, errors.New("render API error: 400 - bad diagram")
	}
	return []byte("PNG:" + source), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}}
}

func (u *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.mu.Lock()
	u.objects[key] = data
	u.mu.Unlock()
	return "https://cdn.example.com/" + key, nil
}

func (u *fakeUploader) Keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	keys := make([]string, 0, len(u.objects))
	for k := range u.objects {
		keys = append(keys, k)
	}
	return keys
}

type fakeTokens struct {
	err          error
	instructions string
	onIssue      func()
}

func (f *fakeTokens) CreateSession(ctx context.Context, instructions string) (*RealtimeSession, error) {
	f.instructions = instructions
	if f.onIssue != nil {
		f.onIssue()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &RealtimeSession{SessionID: "sess_1", Model: "gpt-realtime", ClientSecret: "ek_secret", ExpiresAt: 1740830400}, nil
}

// withUser attaches user the way the auth middleware does.
func withUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), "user", user))
}

func strPtr(s string) *string {
	return &s
}
