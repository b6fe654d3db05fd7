package iamclient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	sessionKeyIntended = "url.intended"
	sessionKeyToken    = "_token"
)

// SessionRecord is a mutable snapshot of one server-side session. Stores
// hand these out on Load and persist them on Save; the record itself does
// no I/O.
type SessionRecord struct {
	ID     string
	Values map[string]any
}

func NewSessionRecord(id string) *SessionRecord {
	if id == "" {
		id = uuid.NewString()
	}
	return &SessionRecord{
		ID:     id,
		Values: make(map[string]any),
	}
}

func (s *SessionRecord) Set(key string, value any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = value
}

func (s *SessionRecord) Get(key string) (any, bool) {
	if s.Values == nil {
		return nil, false
	}
	v, ok := s.Values[key]
	return v, ok
}

func (s *SessionRecord) GetString(key string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func (s *SessionRecord) Delete(key string) {
	if s.Values != nil {
		delete(s.Values, key)
	}
}

func authKey(guard string) string {
	return "auth." + fallback(guard, DefaultGuard)
}

// SetAuthenticatedID binds a local user to the session under the guard.
func (s *SessionRecord) SetAuthenticatedID(guard, id string) {
	s.Set(authKey(guard), id)
}

// AuthenticatedID returns the bound local user id, empty when the guard
// has no authenticated user.
func (s *SessionRecord) AuthenticatedID(guard string) string {
	return s.GetString(authKey(guard))
}

// Logout unbinds the guard's authenticated user. IAM keys survive; use
// ClearIAM to drop those too.
func (s *SessionRecord) Logout(guard string) {
	s.Delete(authKey(guard))
}

func nsKey(guard, suffix string) string {
	return SessionNamespace(guard) + "." + suffix
}

func (s *SessionRecord) SetSubject(guard, sub string) {
	s.Set(nsKey(guard, "sub"), sub)
}

func (s *SessionRecord) Subject(guard string) string {
	return s.GetString(nsKey(guard, "sub"))
}

func (s *SessionRecord) SetPayload(guard string, payload map[string]any) {
	s.Set(nsKey(guard, "payload"), payload)
}

func (s *SessionRecord) Payload(guard string) map[string]any {
	if v, ok := s.Get(nsKey(guard, "payload")); ok {
		switch p := v.(type) {
		case map[string]any:
			return p
		}
	}
	return nil
}

func (s *SessionRecord) SetRoles(guard string, roles []string) {
	s.Set(nsKey(guard, "roles"), roles)
}

func (s *SessionRecord) Roles(guard string) []string {
	v, ok := s.Get(nsKey(guard, "roles"))
	if !ok {
		return nil
	}
	switch roles := v.(type) {
	case []string:
		return roles
	case []any:
		// JSON round trips through generic stores lose the slice type.
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if str, ok := r.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func (s *SessionRecord) SetAccessToken(guard, token string) {
	s.Set(nsKey(guard, "access_token"), token)
}

func (s *SessionRecord) AccessToken(guard string) string {
	return s.GetString(nsKey(guard, "access_token"))
}

func (s *SessionRecord) SetIdentifierValue(guard, value string) {
	s.Set(nsKey(guard, "identifier"), value)
}

func (s *SessionRecord) IdentifierValue(guard string) string {
	return s.GetString(nsKey(guard, "identifier"))
}

func (s *SessionRecord) SetIntendedURL(url string) {
	s.Set(sessionKeyIntended, url)
}

// PullIntendedURL returns and clears the pre-login destination.
func (s *SessionRecord) PullIntendedURL() string {
	url := s.GetString(sessionKeyIntended)
	s.Delete(sessionKeyIntended)
	return url
}

// ClearIAM removes the guard's IAM keys and nothing else. Unrelated
// session state, other guards included, stays intact.
func (s *SessionRecord) ClearIAM(guard string) {
	prefix := SessionNamespace(guard) + "."
	for key := range s.Values {
		if strings.HasPrefix(key, prefix) {
			delete(s.Values, key)
		}
	}
}

// RegenerateToken rotates the CSRF token so forms issued before a logout
// stop validating.
func (s *SessionRecord) RegenerateToken() {
	s.Set(sessionKeyToken, randomToken())
}

func randomToken() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

// SessionStore persists session records. Implementations must make
// Invalidate flush every value and rotate the id in one step.
type SessionStore interface {
	Load(ctx context.Context, id string) (*SessionRecord, error)
	Save(ctx context.Context, record *SessionRecord) error
	// Invalidate drops all values and assigns a fresh id.
	Invalidate(ctx context.Context, record *SessionRecord) error
	// RegenerateID assigns a fresh id while keeping the values.
	RegenerateID(ctx context.Context, record *SessionRecord) error
}

// MemorySessionStore keeps sessions in process memory. Useful for tests
// and single-node deployments; production setups want the Redis store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]any
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]map[string]any),
	}
}

func (m *MemorySessionStore) Load(_ context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return NewSessionRecord(""), nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.sessions[id]
	if !ok {
		return NewSessionRecord(id), nil
	}

	record := NewSessionRecord(id)
	for k, v := range values {
		record.Values[k] = v
	}
	return record, nil
}

func (m *MemorySessionStore) Save(_ context.Context, record *SessionRecord) error {
	if record == nil || record.ID == "" {
		return goerrors.New("cannot save session without id", goerrors.CategoryBadInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	values := make(map[string]any, len(record.Values))
	for k, v := range record.Values {
		values[k] = v
	}
	m.sessions[record.ID] = values
	return nil
}

func (m *MemorySessionStore) Invalidate(_ context.Context, record *SessionRecord) error {
	if record == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, record.ID)
	record.ID = uuid.NewString()
	record.Values = make(map[string]any)
	return nil
}

func (m *MemorySessionStore) RegenerateID(_ context.Context, record *SessionRecord) error {
	if record == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, record.ID)
	record.ID = uuid.NewString()

	values := make(map[string]any, len(record.Values))
	for k, v := range record.Values {
		values[k] = v
	}
	m.sessions[record.ID] = values
	return nil
}
