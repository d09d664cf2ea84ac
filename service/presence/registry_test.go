package presence

import (
	"fmt"
	"sync"
	"testing"

	"PChatCore/module/chat/model"
)

const room model.RoomID = "channel:c1"

func TestJoinLeaveFirstAndLast(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.RegisterConnection("alice", "a1")
	r.RegisterConnection("alice", "a2")
	r.RegisterConnection("alice", "a1") // 幂等

	first, err := r.JoinRoom("alice", "a1", room)
	if err != nil || !first {
		t.Fatalf("join a1 = %v, %v", first, err)
	}
	first, _ = r.JoinRoom("alice", "a2", room)
	if first {
		t.Fatal("second connection reported as first")
	}
	if got := r.ListPresentUsers(room); len(got) != 1 || got[0].Connections != 2 {
		t.Fatalf("present = %+v", got)
	}

	last, _ := r.LeaveRoom("alice", "a1", room)
	if last {
		t.Fatal("leave with a remaining connection reported as last")
	}
	last, _ = r.LeaveRoom("alice", "a1", room)
	if last {
		t.Fatal("repeated leave reported as last")
	}
	last, _ = r.LeaveRoom("alice", "a2", room)
	if !last {
		t.Fatal("final leave not reported as last")
	}
	if got := r.ListPresentUsers(room); len(got) != 0 {
		t.Fatalf("present after leave = %+v", got)
	}
}

func TestJoinRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	if _, err := r.JoinRoom("alice", "a1", room); err != ErrNotRegistered {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
	r.RegisterConnection("alice", "a1")
	if _, err := r.JoinRoom("bob", "a1", room); err != ErrNotRegistered {
		t.Fatalf("foreign conn err = %v, want ErrNotRegistered", err)
	}
}

func TestDeregisterYieldsTransitions(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.RegisterConnection("alice", "a1")
	r.RegisterConnection("alice", "a2")
	_, _ = r.JoinRoom("alice", "a1", "channel:c1")
	_, _ = r.JoinRoom("alice", "a1", "channel:c2")
	_, _ = r.JoinRoom("alice", "a2", "channel:c2")

	got := r.DeregisterConnection("a1")
	want := []Transition{
		{Room: "channel:c1", User: "alice", WasLast: true},
		{Room: "channel:c2", User: "alice", WasLast: false},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transitions = %+v, want %+v", got, want)
	}
	if again := r.DeregisterConnection("a1"); len(again) != 0 {
		t.Fatalf("second deregister = %+v", again)
	}
	if rooms := r.RoomsOf("a2"); len(rooms) != 1 || rooms[0] != "channel:c2" {
		t.Fatalf("rooms of a2 = %v", rooms)
	}
	if st := r.Stats(); st.Users != 1 || st.Connections != 1 || st.Rooms != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

// 每个用户在房间内的 online/offline 必须严格交替
func TestConcurrentJoinLeaveBalanced(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	const conns = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		online int
	)
	for i := 0; i < conns; i++ {
		c := model.ConnID(fmt.Sprintf("c%d", i))
		r.RegisterConnection("alice", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				first, err := r.JoinRoom("alice", c, room)
				if err != nil {
					t.Errorf("join: %v", err)
					return
				}
				last, _ := r.LeaveRoom("alice", c, room)
				mu.Lock()
				if first {
					online++
				}
				if last {
					online--
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if online != 0 {
		t.Fatalf("online balance = %d", online)
	}
	if got := r.ListPresentUsers(room); len(got) != 0 {
		t.Fatalf("present = %+v", got)
	}
}

func TestClosedRegistryIsNoop(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("alice", "a1")
	r.Close()
	r.Close()

	first, err := r.JoinRoom("alice", "a1", room)
	if first || err != nil {
		t.Fatalf("join after close = %v, %v", first, err)
	}
	if got := r.ListPresentUsers(room); len(got) != 0 {
		t.Fatalf("present after close = %+v", got)
	}
	if tr := r.DeregisterConnection("a1"); tr != nil {
		t.Fatalf("transitions after close = %+v", tr)
	}
}
