// Package presence tracks which live connection is in which room.
//
// One goroutine owns every map; callers hand it closures over a command
// channel, so each operation below is atomic with respect to all others and
// first-in / last-out detection never races.
package presence

import (
	"errors"
	"sort"
	"sync"

	"PChatCore/module/chat/model"
)

var ErrNotRegistered = errors.New("presence: connection not registered for user")

// Transition 连接离开房间后的结果；WasLast 表示该用户在此房间已无连接
type Transition struct {
	Room    model.RoomID
	User    model.UserID
	WasLast bool
}

// Presence 房间内的一个在线用户
type Presence struct {
	User        model.UserID
	Connections int
}

type Stats struct {
	Users       int
	Connections int
	Rooms       int
}

type connSet map[model.ConnID]struct{}

type state struct {
	connectionsByUser map[model.UserID]connSet
	userByConnection  map[model.ConnID]model.UserID
	usersByRoom       map[model.RoomID]map[model.UserID]connSet
	roomsByConnection map[model.ConnID]map[model.RoomID]struct{}
}

type Registry struct {
	cmds      chan func(*state)
	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry() *Registry {
	r := &Registry{
		cmds: make(chan func(*state)),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	st := &state{
		connectionsByUser: make(map[model.UserID]connSet),
		userByConnection:  make(map[model.ConnID]model.UserID),
		usersByRoom:       make(map[model.RoomID]map[model.UserID]connSet),
		roomsByConnection: make(map[model.ConnID]map[model.RoomID]struct{}),
	}
	for {
		select {
		case fn := <-r.cmds:
			fn(st)
		case <-r.done:
			return
		}
	}
}

// do 在 actor 里执行 fn 并等待完成；已关闭时返回 false
func (r *Registry) do(fn func(*state)) bool {
	finished := make(chan struct{})
	select {
	case r.cmds <- func(st *state) { fn(st); close(finished) }:
	case <-r.done:
		return false
	}
	<-finished
	return true
}

// Close 停止 actor，之后所有操作都是返回零值的空操作
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// RegisterConnection 幂等；不产生任何广播
func (r *Registry) RegisterConnection(user model.UserID, conn model.ConnID) {
	r.do(func(st *state) {
		if owner, ok := st.userByConnection[conn]; ok && owner != user {
			return
		}
		set := st.connectionsByUser[user]
		if set == nil {
			set = make(connSet)
			st.connectionsByUser[user] = set
		}
		set[conn] = struct{}{}
		st.userByConnection[conn] = user
	})
}

// JoinRoom first 为 true 表示该用户此前在房间内没有任何连接
func (r *Registry) JoinRoom(user model.UserID, conn model.ConnID, room model.RoomID) (first bool, err error) {
	ok := r.do(func(st *state) {
		if owner, found := st.userByConnection[conn]; !found || owner != user {
			err = ErrNotRegistered
			return
		}
		users := st.usersByRoom[room]
		if users == nil {
			users = make(map[model.UserID]connSet)
			st.usersByRoom[room] = users
		}
		conns := users[user]
		if conns == nil {
			conns = make(connSet)
			users[user] = conns
		}
		first = len(conns) == 0
		conns[conn] = struct{}{}

		rooms := st.roomsByConnection[conn]
		if rooms == nil {
			rooms = make(map[model.RoomID]struct{})
			st.roomsByConnection[conn] = rooms
		}
		rooms[room] = struct{}{}
	})
	if !ok {
		return false, nil
	}
	return first, err
}

// LeaveRoom last 为 true 表示该用户在房间内已无连接；连接不在房间时为空操作
func (r *Registry) LeaveRoom(user model.UserID, conn model.ConnID, room model.RoomID) (last bool, err error) {
	ok := r.do(func(st *state) {
		if owner, found := st.userByConnection[conn]; !found || owner != user {
			err = ErrNotRegistered
			return
		}
		last = st.leave(user, conn, room)
	})
	if !ok {
		return false, nil
	}
	return last, err
}

// leave 调用方在 actor 内
func (st *state) leave(user model.UserID, conn model.ConnID, room model.RoomID) bool {
	users := st.usersByRoom[room]
	conns := users[user]
	if _, in := conns[conn]; !in {
		return false
	}
	delete(conns, conn)
	if rooms := st.roomsByConnection[conn]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(st.roomsByConnection, conn)
		}
	}
	if len(conns) > 0 {
		return false
	}
	delete(users, user)
	if len(users) == 0 {
		delete(st.usersByRoom, room)
	}
	return true
}

// DeregisterConnection 幂等；返回连接所在每个房间的离开结果，按房间排序
func (r *Registry) DeregisterConnection(conn model.ConnID) []Transition {
	var out []Transition
	r.do(func(st *state) {
		user, ok := st.userByConnection[conn]
		if !ok {
			return
		}
		rooms := make([]model.RoomID, 0, len(st.roomsByConnection[conn]))
		for room := range st.roomsByConnection[conn] {
			rooms = append(rooms, room)
		}
		sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
		for _, room := range rooms {
			out = append(out, Transition{Room: room, User: user, WasLast: st.leave(user, conn, room)})
		}
		delete(st.roomsByConnection, conn)
		delete(st.userByConnection, conn)
		if set := st.connectionsByUser[user]; set != nil {
			delete(set, conn)
			if len(set) == 0 {
				delete(st.connectionsByUser, user)
			}
		}
	})
	return out
}

// ListPresentUsers 快照，按用户 id 排序
func (r *Registry) ListPresentUsers(room model.RoomID) []Presence {
	out := make([]Presence, 0)
	r.do(func(st *state) {
		for user, conns := range st.usersByRoom[room] {
			out = append(out, Presence{User: user, Connections: len(conns)})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

func (r *Registry) ConnectionsInRoom(room model.RoomID) []model.ConnID {
	var out []model.ConnID
	r.do(func(st *state) {
		for _, conns := range st.usersByRoom[room] {
			for c := range conns {
				out = append(out, c)
			}
		}
	})
	return out
}

func (r *Registry) ConnectionsOf(user model.UserID) []model.ConnID {
	var out []model.ConnID
	r.do(func(st *state) {
		for c := range st.connectionsByUser[user] {
			out = append(out, c)
		}
	})
	return out
}

func (r *Registry) RoomsOf(conn model.ConnID) []model.RoomID {
	var out []model.RoomID
	r.do(func(st *state) {
		for room := range st.roomsByConnection[conn] {
			out = append(out, room)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Stats() Stats {
	var s Stats
	r.do(func(st *state) {
		s = Stats{
			Users:       len(st.connectionsByUser),
			Connections: len(st.userByConnection),
			Rooms:       len(st.usersByRoom),
		}
	})
	return s
}
