package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/nsyszr/foodblog/pkg/messaging"
	"github.com/nsyszr/foodblog/pkg/messaging/messagingtest"
	"github.com/nsyszr/foodblog/pkg/middleware"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/users"
	"github.com/ory/herodot"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type memoryManager struct {
	mu   sync.Mutex
	next int64
	subs []Subscription
}

func (m *memoryManager) Create(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	s.ID = m.next
	m.subs = append(m.subs, *s)
	return nil
}

func (m *memoryManager) Exists(ctx context.Context, followerID, followedID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.FollowerID == followerID && s.FollowedID == followedID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryManager) Delete(ctx context.Context, followerID, followedID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.FollowerID == followerID && s.FollowedID == followedID {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryManager) FollowedIDs(ctx context.Context, followerID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for _, s := range m.subs {
		if s.FollowerID == followerID {
			ids = append(ids, s.FollowedID)
		}
	}
	return ids, nil
}

func (m *memoryManager) FollowerIDs(ctx context.Context, followedID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for _, s := range m.subs {
		if s.FollowedID == followedID {
			ids = append(ids, s.FollowerID)
		}
	}
	return ids, nil
}

// stubResolver knows users 1 to 9 and fails with err when set.
type stubResolver struct {
	err error
}

func (r stubResolver) ResolveUser(ctx context.Context, id int64) (users.Reply, error) {
	if r.err != nil {
		return users.Reply{}, r.err
	}
	if id < 1 || id > 9 {
		return users.UnknownReply(id), nil
	}
	return users.ProfileReply(users.Profile{ID: id, Username: "user"}), nil
}

func (r stubResolver) ResolveUsers(ctx context.Context, ids []int64) []users.Reply {
	res := []users.Reply{}
	for _, id := range ids {
		if reply, err := r.ResolveUser(ctx, id); err == nil {
			res = append(res, reply)
		}
	}
	return res
}

func newTestServer(m Manager, resolver users.Resolver) *httptest.Server {
	r := mux.NewRouter()
	NewHandler(m, resolver, herodot.NewJSONWriter(log.StandardLogger())).RegisterRoutes(r)
	return httptest.NewServer(r)
}

func do(t *testing.T, method, url string, userID string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
		req.Header.Set(middleware.HeaderUserName, "user"+userID)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCreateSubscription(t *testing.T) {
	m := &memoryManager{}
	ts := newTestServer(m, stubResolver{})
	defer ts.Close()

	res := do(t, "POST", ts.URL+"/us", "1", `{"followedId":2}`)
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	var s Subscription
	if err := json.NewDecoder(res.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.ID == 0 || s.FollowerID != 1 || s.FollowedID != 2 {
		t.Fatalf("unexpected subscription %+v", s)
	}
}

func TestCreateSubscriptionStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		body     string
		resolver stubResolver
		want     int
	}{
		{name: "no identity", user: "", body: `{"followedId":2}`, want: http.StatusUnauthorized},
		{name: "missing followedId", user: "1", body: `{}`, want: http.StatusBadRequest},
		{name: "empty body", user: "1", body: ``, want: http.StatusBadRequest},
		{name: "self", user: "1", body: `{"followedId":1}`, want: http.StatusBadRequest},
		{name: "duplicate", user: "1", body: `{"followedId":3}`, want: http.StatusBadRequest},
		{name: "string id", user: "1", body: `{"followedId":"4"}`, want: http.StatusCreated},
		{name: "unknown user", user: "1", body: `{"followedId":99}`, want: http.StatusNotFound},
		{name: "auth timeout", user: "1", body: `{"followedId":5}`, resolver: stubResolver{err: rpc.ErrTimeout}, want: http.StatusServiceUnavailable},
		{name: "not connected", user: "1", body: `{"followedId":5}`, resolver: stubResolver{err: messaging.ErrNotConnected}, want: http.StatusServiceUnavailable},
		{name: "transport lost", user: "1", body: `{"followedId":5}`, resolver: stubResolver{err: errors.Wrap(messaging.ErrTransportLost, "closed")}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &memoryManager{subs: []Subscription{{ID: 1, FollowerID: 1, FollowedID: 3}}, next: 1}
			ts := newTestServer(m, tt.resolver)
			defer ts.Close()

			res := do(t, "POST", ts.URL+"/us/", tt.user, tt.body)
			res.Body.Close()
			if res.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, res.StatusCode)
			}
		})
	}
}

func TestDeleteSubscription(t *testing.T) {
	m := &memoryManager{subs: []Subscription{{ID: 1, FollowerID: 1, FollowedID: 2}}, next: 1}
	ts := newTestServer(m, stubResolver{})
	defer ts.Close()

	res := do(t, "DELETE", ts.URL+"/us", "1", `{"followedId":2}`)
	var body map[string]bool
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !body["deleted"] {
		t.Fatalf("unexpected response %d %v", res.StatusCode, body)
	}

	res = do(t, "DELETE", ts.URL+"/us", "1", `{"followedId":2}`)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing subscription, got %d", res.StatusCode)
	}

	res = do(t, "DELETE", ts.URL+"/us", "1", `{}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without followedId, got %d", res.StatusCode)
	}
}

type authUsers map[int64]users.User

func (a authUsers) GetUser(ctx context.Context, id int64) (*users.User, error) {
	u, ok := a[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &u, nil
}

func (a authUsers) GetUsers(ctx context.Context, limit, offset int) ([]users.User, error) {
	return nil, nil
}

func TestListingResolvesOverTheBroker(t *testing.T) {
	broker := messagingtest.NewBroker()

	responder := rpc.NewResponder(broker, rpc.WithPrefetch(2))
	users.Register(responder, authUsers{
		2: {ID: 2, Username: "bob", PasswordHash: "secret"},
		3: {ID: 3, Username: "carol", PasswordHash: "secret"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- responder.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	for deadline := time.Now().Add(2 * time.Second); broker.Consumers(rpc.DefaultQueue) == 0; {
		if time.Now().After(deadline) {
			t.Fatalf("responder did not start consuming")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m := &memoryManager{subs: []Subscription{
		{ID: 1, FollowerID: 1, FollowedID: 3},
		{ID: 2, FollowerID: 1, FollowedID: 2},
		{ID: 3, FollowerID: 1, FollowedID: 404},
		{ID: 4, FollowerID: 2, FollowedID: 1},
	}, next: 4}
	resolver := users.NewResolver(rpc.NewCaller(broker), users.WithResolveTimeout(2*time.Second))
	ts := newTestServer(m, resolver)
	defer ts.Close()

	res := do(t, "GET", ts.URL+"/us/following", "1", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var list []map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %v", list)
	}
	if list[0]["username"] != "carol" || list[1]["username"] != "bob" || list[2]["name"] != users.UnknownName {
		t.Fatalf("unexpected listing %v", list)
	}
	for _, entry := range list {
		if _, ok := entry["passwordHash"]; ok {
			t.Fatalf("listing leaks the password hash: %v", entry)
		}
	}
}

func TestFollowers(t *testing.T) {
	m := &memoryManager{subs: []Subscription{{ID: 1, FollowerID: 5, FollowedID: 1}}, next: 1}
	ts := newTestServer(m, stubResolver{})
	defer ts.Close()

	res := do(t, "GET", ts.URL+"/us/followers", "1", "")
	defer res.Body.Close()

	var list []map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["id"] != float64(5) {
		t.Fatalf("unexpected followers %v", list)
	}
}
