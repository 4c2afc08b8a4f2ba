package sheets

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeScript はApps Scriptの動作を模したテスト用ハンドラー。
// 実際のスクリプトと同じく、存在確認と追記の間にロックを取らない。
type fakeScript struct {
	mu      sync.Mutex
	users   []RemoteUser
	signups []RemoteSignup
	clock   time.Time

	// scanDelay は存在確認と追記の間の待ち時間。競合を起こしやすくする。
	scanDelay time.Duration
	// withCodes がfalseの場合は従来のスクリプトと同じくcodeを返さない。
	withCodes bool
	// legacyOnly がtrueの場合は従来の5つのactionだけを受け付ける。
	legacyOnly bool
	// calls はaction名ごとの呼び出し回数。
	calls map[string]int
}

func newFakeScript() *fakeScript {
	return &fakeScript{
		clock:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		withCodes: true,
		calls:     make(map[string]int),
	}
}

func (f *fakeScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.Form.Get("action")
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(f.handle(name, r.Form))
}

func (f *fakeScript) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

var legacyActions = map[string]bool{
	"register": true, "login": true, "getSignups": true, "addSignup": true, "removeSignup": true,
}

func (f *fakeScript) fail(msg, code string) Envelope {
	env := Envelope{Success: false, Error: msg}
	if f.withCodes {
		env.Code = code
	}
	return env
}

func (f *fakeScript) handle(name string, v map[string][]string) Envelope {
	get := func(k string) string {
		if vals := v[k]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	_, hasNotes := v["notes"]
	_, hasName := v["user_name"]
	slot, _ := strconv.Atoi(get("slot"))
	matches := func(s RemoteSignup) bool {
		return s.Category == get("category") && s.Item == get("item") && s.Slot == slot
	}

	if f.legacyOnly && !legacyActions[name] {
		return Envelope{Success: false, Error: "Unknown action"}
	}

	switch name {
	case "login":
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, u := range f.users {
			if strings.EqualFold(u.Email, get("email")) && u.PasswordHash == get("password_hash") {
				return Envelope{Success: true, User: &RemoteUser{Email: u.Email, Name: u.Name}}
			}
		}
		return Envelope{Success: false, Error: "Invalid email or password"}

	case "getSignups":
		f.mu.Lock()
		defer f.mu.Unlock()
		out := make([]RemoteSignup, len(f.signups))
		copy(out, f.signups)
		return Envelope{Success: true, Signups: out}

	case "addSignup":
		f.mu.Lock()
		for _, s := range f.signups {
			if matches(s) {
				f.mu.Unlock()
				return f.fail("Slot already taken", "SLOT_TAKEN")
			}
		}
		f.mu.Unlock()
		time.Sleep(f.scanDelay)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.clock = f.clock.Add(time.Second)
		f.signups = append(f.signups, RemoteSignup{
			Category: get("category"), Item: get("item"), Slot: slot,
			UserEmail: get("user_email"), UserName: get("user_name"), Notes: get("notes"),
			Timestamp: f.clock.Format(time.RFC3339Nano),
		})
		return Envelope{Success: true}

	case "removeSignup", "adminRemoveSignup":
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.signups {
			if matches(s) && (get("user_email") == "" && name == "adminRemoveSignup" ||
				strings.EqualFold(s.UserEmail, get("user_email"))) {
				f.signups = append(f.signups[:i], f.signups[i+1:]...)
				return Envelope{Success: true}
			}
		}
		return f.fail("Signup not found", "SIGNUP_NOT_FOUND")

	case "updateSignup":
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.signups {
			if matches(s) {
				if hasName {
					f.signups[i].UserName = get("user_name")
				}
				if hasNotes {
					f.signups[i].Notes = get("notes")
				}
				return Envelope{Success: true}
			}
		}
		return f.fail("Signup not found", "SIGNUP_NOT_FOUND")

	case "register":
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, u := range f.users {
			if strings.EqualFold(u.Email, get("email")) {
				return f.fail("Email already registered", "IDENTIFIER_TAKEN")
			}
		}
		u := RemoteUser{Email: get("email"), Name: get("name"), PasswordHash: get("password_hash")}
		f.users = append(f.users, u)
		return Envelope{Success: true, User: &RemoteUser{Email: u.Email, Name: u.Name}}

	case "getUser":
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, u := range f.users {
			if strings.EqualFold(u.Email, get("email")) {
				copied := u
				return Envelope{Success: true, User: &copied}
			}
		}
		return Envelope{Success: true}

	case "upsertUser":
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, u := range f.users {
			if strings.EqualFold(u.Email, get("email")) {
				f.users[i].Name = get("name")
				return Envelope{Success: true}
			}
		}
		return f.fail("User not found", "USER_NOT_FOUND")
	}

	return f.fail("Unknown action", "")
}
