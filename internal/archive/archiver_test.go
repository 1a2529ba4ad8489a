package archive

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/engagelegal/intake-platform/internal/intake"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Key] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) key(t *testing.T, substr string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.objects {
		if strings.Contains(k, substr) && !strings.Contains(k, "manifests") {
			return k
		}
	}
	t.Fatalf("no object matching %q, have %v", substr, keysOf(f.objects))
	return ""
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type fixedRetention int

func (d fixedRetention) RetentionDays(context.Context, string) (int, error) {
	return int(d), nil
}

func terminalState() *intake.State {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &intake.State{
		SessionID: "sess-1",
		UserID:    "user-1",
		FirmID:    "firm-1",
		Phase:     intake.PhaseCompleted,
		Identity:  intake.UserIdentity{Name: "Dana", Email: "dana@example.com", LegalArea: "family_law"},
		Conflict:  intake.ConflictCheck{Status: intake.ConflictClear},
		Messages: []intake.Message{
			{Role: intake.RoleUser, Content: "Reach me at dana@example.com or 555-867-5309", Timestamp: now},
			{Role: intake.RoleAssistant, Content: "Noted, thank you.", Timestamp: now},
		},
		DataGoals:      []intake.DataGoal{{ID: "full_name"}, {ID: "contact_info"}},
		CompletedGoals: []string{"full_name", "contact_info"},
		LastActivity:   now,
		CreatedAt:      now.Add(-time.Hour),
	}
}

func TestArchiverExportsScrubbedRecord(t *testing.T) {
	s3c := newFakeS3()
	a := NewArchiver(NewStore(s3c, "intake-archive", nil), fixedRetention(365), nil).
		WithClock(func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) })

	if err := a.Archive(context.Background(), terminalState()); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	key := s3c.key(t, "sess-1")
	if !strings.HasPrefix(key, "conversations/v1/firm-1/2026/03/14/") {
		t.Fatalf("unexpected key layout %q", key)
	}

	var rec Record
	if err := json.Unmarshal(s3c.objects[key], &rec); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if rec.RetentionDays != 365 {
		t.Fatalf("expected firm retention 365, got %d", rec.RetentionDays)
	}
	if rec.PracticeArea != "family_law" || rec.MessageCount != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	content := rec.Messages[0].Content
	if strings.Contains(content, "dana@example.com") || strings.Contains(content, "867-5309") {
		t.Fatalf("export leaked PII: %q", content)
	}
}

func TestArchiverNeverExportsCiphertext(t *testing.T) {
	s3c := newFakeS3()
	a := NewArchiver(NewStore(s3c, "intake-archive", nil), nil, nil)

	st := terminalState()
	st.Messages[0].Encrypted = true
	st.Messages[0].Content = "b64ciphertextblob"

	if err := a.Archive(context.Background(), st); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	var rec Record
	if err := json.Unmarshal(s3c.objects[s3c.key(t, "sess-1")], &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Messages[0].Content != "[ENCRYPTED]" {
		t.Fatalf("expected ciphertext placeholder, got %q", rec.Messages[0].Content)
	}
	if rec.RetentionDays != DefaultRetentionDays {
		t.Fatalf("expected default retention, got %d", rec.RetentionDays)
	}
}

func TestArchiverAppendsManifest(t *testing.T) {
	s3c := newFakeS3()
	a := NewArchiver(NewStore(s3c, "intake-archive", nil), nil, nil)
	ctx := context.Background()

	first := terminalState()
	second := terminalState()
	second.SessionID = "sess-2"

	if err := a.Archive(ctx, first); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := a.Archive(ctx, second); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	s3c.mu.Lock()
	var manifest string
	for k, v := range s3c.objects {
		if strings.Contains(k, "manifests") {
			manifest = string(v)
		}
	}
	s3c.mu.Unlock()

	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 manifest lines, got %d: %q", len(lines), manifest)
	}
	var entry ManifestEntry
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("unmarshal manifest line: %v", err)
	}
	if entry.SessionID != "sess-2" {
		t.Fatalf("unexpected manifest entry %+v", entry)
	}
}

func TestArchiverDisabledIsNoop(t *testing.T) {
	a := NewArchiver(NewStore(nil, "", nil), nil, nil)
	if err := a.Archive(context.Background(), terminalState()); err != nil {
		t.Fatalf("disabled archiver must be a no-op, got %v", err)
	}
}
