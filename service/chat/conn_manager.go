package chat

import (
	"sort"
	"sync"
	"time"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

// ===== 配置 =====

type ManagerConf struct {
	UnauthTTL   time.Duration    // 未认证连接最长存活（ws.auth_timeout）
	SweepEvery  time.Duration    // 清理周期；默认 UnauthTTL/4
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接，否则 BindUser 报错
	OnExpire    func(c *WsConn)  // 未认证超时回调；nil 时直接关闭
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 10 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = c.UnauthTTL / 4
	}
	if c.SweepEvery < 10*time.Millisecond {
		c.SweepEvery = 10 * time.Millisecond
	}
}

// ===== 数据结构 =====

// ConnManager 本节点连接索引：connID -> conn，userID -> connID -> conn
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[model.ConnID]*WsConn
	byUser map[model.UserID]map[model.ConnID]*WsConn

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow: make(map[model.ConnID]*WsConn),
		byUser: make(map[model.UserID]map[model.ConnID]*WsConn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close 停止清理协程并关闭所有连接
func (m *ConnManager) Close(reason string) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	for _, c := range m.All() {
		c.Close(reason)
	}
}

// AddUnauth 新连接（未认证）登记
func (m *ConnManager) AddUnauth(c *WsConn) error {
	if c == nil || c.ID == "" {
		return errs.ErrBadRequest.WrapMsg("conn id empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[c.ID]; exists {
		return errs.ErrConflict.WrapMsg("conn id exists", "conn", c.ID)
	}
	m.bySnow[c.ID] = c
	return nil
}

// BindUser 把连接挂到用户下，并执行“最大连接数/挤下线”策略；返回被挤掉的连接（由调用方通知并关闭）
func (m *ConnManager) BindUser(id model.ConnID, user model.UserID) (*WsConn, error) {
	if id == "" || user == "" {
		return nil, errs.ErrBadRequest.WrapMsg("conn/user empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.bySnow[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conn not found", "conn", id)
	}
	if mm := m.byUser[user]; mm != nil {
		if _, already := mm[id]; already {
			return nil, nil
		}
	}

	var evicted *WsConn
	if m.conf.MaxPerUser > 0 && len(m.byUser[user]) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			return nil, errs.ErrRateLimited.WrapMsg("too many connections", "user", user, "max", m.conf.MaxPerUser)
		}
		evicted = m.evictOldestLocked(user)
	}

	if m.byUser[user] == nil {
		m.byUser[user] = make(map[model.ConnID]*WsConn)
	}
	m.byUser[user][id] = w
	return evicted, nil
}

// 需要在持锁状态下调用（*Locked）
func (m *ConnManager) evictOldestLocked(user model.UserID) *WsConn {
	var oldest *WsConn
	for _, w := range m.byUser[user] {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) ||
			(w.CreatedAt.Equal(oldest.CreatedAt) && w.ID < oldest.ID) {
			oldest = w
		}
	}
	if oldest != nil {
		m.removeLocked(oldest.ID, user)
	}
	return oldest
}

// Remove 从索引移除，不关闭连接；返回是否存在
func (m *ConnManager) Remove(id model.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySnow[id]
	if !ok {
		return false
	}
	m.removeLocked(id, w.UserID())
	return true
}

func (m *ConnManager) removeLocked(id model.ConnID, user model.UserID) {
	delete(m.bySnow, id)
	if user == "" {
		return
	}
	if mm := m.byUser[user]; mm != nil {
		delete(mm, id)
		if len(mm) == 0 {
			delete(m.byUser, user)
		}
	}
}

func (m *ConnManager) Get(id model.ConnID) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[id]
	return w, ok
}

// ListUserConns 用户在本节点的所有连接，按建立时间排序
func (m *ConnManager) ListUserConns(user model.UserID) []*WsConn {
	m.mu.RLock()
	out := make([]*WsConn, 0, len(m.byUser[user]))
	for _, w := range m.byUser[user] {
		out = append(out, w)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *ConnManager) All() []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		out = append(out, w)
	}
	return out
}

// Count 总连接数 / 已认证用户数
func (m *ConnManager) Count() (conns, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow), len(m.byUser)
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce 收集超时未认证的连接，解锁后再回调
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.bySnow {
		if !w.Authenticated() && !w.Closed() && now.Sub(w.CreatedAt) >= m.conf.UnauthTTL {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range expired {
		if m.conf.OnExpire != nil {
			m.conf.OnExpire(w)
		} else {
			w.Close("auth timeout")
		}
	}
	return len(expired)
}
