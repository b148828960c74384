package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const hostColumns = `id, ip_address, COALESCE(performance, ''), COALESCE(is_alive, 1), first_seen, last_seen`

// AddOrUpdateHost 保存或更新主机，返回主机 ID。
// 新主机默认存活；已存在的主机只刷新 performance 与 last_seen，保留原存活状态。
func (s *Store) AddOrUpdateHost(ip, performance string) (int64, error) {
	var id int64
	err := s.WithTx(func(tx *Tx) error {
		var err error
		id, err = tx.AddOrUpdateHost(ip, performance)
		return err
	})
	return id, err
}

// AddOrUpdateHostWithStatus 保存或更新主机，并显式设置存活状态
func (s *Store) AddOrUpdateHostWithStatus(ip, performance string, isAlive bool) (int64, error) {
	var id int64
	err := s.WithTx(func(tx *Tx) error {
		var err error
		id, err = tx.AddOrUpdateHostWithStatus(ip, performance, isAlive)
		return err
	})
	return id, err
}

// GetHostByIP 按 IP 获取主机；不存在时返回 nil, nil
func (s *Store) GetHostByIP(ip string) (*Host, error) {
	return getHost(s.db, "ip_address = ?", strings.TrimSpace(ip))
}

// GetHostByID 按 ID 获取主机；不存在时返回 nil, nil
func (s *Store) GetHostByID(id int64) (*Host, error) {
	return getHost(s.db, "id = ?", id)
}

// MarkHostAsDead 将主机标记为离线；ID 不存在时返回 false, nil
func (s *Store) MarkHostAsDead(id int64) (bool, error) {
	return markHostAsDead(s.db, id)
}

// ListHosts 获取主机列表及总数
func (s *Store) ListHosts(filter HostFilter) ([]Host, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	switch filter.Status {
	case "alive":
		where += " AND is_alive = 1"
	case "dead":
		where += " AND is_alive = 0"
	}

	// 单连接：先查总数，避免与列表游标同时占用连接
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM hosts "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count hosts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	if limit > 5000 {
		limit = 5000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query("SELECT "+hostColumns+" FROM hosts "+where+" ORDER BY last_seen DESC, id ASC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	hosts := []Host{}
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, 0, err
		}
		hosts = append(hosts, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return hosts, total, nil
}

// AddOrUpdateHost 见 Store.AddOrUpdateHost
func (t *Tx) AddOrUpdateHost(ip, performance string) (int64, error) {
	return upsertHost(t.tx, ip, performance, nil)
}

// AddOrUpdateHostWithStatus 见 Store.AddOrUpdateHostWithStatus
func (t *Tx) AddOrUpdateHostWithStatus(ip, performance string, isAlive bool) (int64, error) {
	return upsertHost(t.tx, ip, performance, &isAlive)
}

// GetHostByIP 见 Store.GetHostByIP
func (t *Tx) GetHostByIP(ip string) (*Host, error) {
	return getHost(t.tx, "ip_address = ?", strings.TrimSpace(ip))
}

// MarkHostAsDead 见 Store.MarkHostAsDead
func (t *Tx) MarkHostAsDead(id int64) (bool, error) {
	return markHostAsDead(t.tx, id)
}

// upsertHost 以 ip_address 为自然键做原生 upsert，再取回代理键。
// alive 为 nil 时，更新分支不改动 is_alive。
func upsertHost(q querier, ip, performance string, alive *bool) (int64, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return 0, ErrEmptyIP
	}
	now := time.Now()

	var err error
	if alive == nil {
		_, err = q.Exec(`
			INSERT INTO hosts (ip_address, performance, is_alive, first_seen, last_seen)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(ip_address) DO UPDATE SET
				performance = excluded.performance,
				last_seen = excluded.last_seen
		`, ip, performance, now, now)
	} else {
		_, err = q.Exec(`
			INSERT INTO hosts (ip_address, performance, is_alive, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(ip_address) DO UPDATE SET
				performance = excluded.performance,
				is_alive = excluded.is_alive,
				last_seen = excluded.last_seen
		`, ip, performance, boolToInt(*alive), now, now)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert host %s: %w", ip, err)
	}

	var id int64
	if err := q.QueryRow(`SELECT id FROM hosts WHERE ip_address = ?`, ip).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup host %s: %w", ip, err)
	}
	return id, nil
}

func getHost(q querier, where string, arg interface{}) (*Host, error) {
	row := q.QueryRow("SELECT "+hostColumns+" FROM hosts WHERE "+where, arg)
	h, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func markHostAsDead(q querier, id int64) (bool, error) {
	res, err := q.Exec(`UPDATE hosts SET is_alive = 0 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("mark host %d dead: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(r rowScanner) (*Host, error) {
	var (
		h         Host
		alive     int
		firstSeen sql.NullTime
		lastSeen  sql.NullTime
	)
	if err := r.Scan(&h.ID, &h.IPAddress, &h.Performance, &alive, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	h.IsAlive = alive == 1
	if firstSeen.Valid {
		h.FirstSeen = firstSeen.Time
	}
	if lastSeen.Valid {
		h.LastSeen = lastSeen.Time
	}
	return &h, nil
}
