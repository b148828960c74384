package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/promptsworkmagic/ollama-compass/internal/logger"
)

// AddModels 为主机追加模型记录（不会先清空）。
// hostID 不存在时不写入任何记录，也不返回错误。
func (s *Store) AddModels(hostID int64, models []ModelInfo) error {
	return s.WithTx(func(tx *Tx) error {
		return tx.AddModels(hostID, models)
	})
}

// ClearModelsForHost 删除主机的全部模型记录，返回删除条数
func (s *Store) ClearModelsForHost(hostID int64) (int64, error) {
	return clearModelsForHost(s.db, hostID)
}

// ReplaceModels 在同一事务内清空并写入新的模型清单，读者不会看到空窗期
func (s *Store) ReplaceModels(hostID int64, models []ModelInfo) error {
	return s.WithTx(func(tx *Tx) error {
		return tx.ReplaceModels(hostID, models)
	})
}

// GetModelsForHost 获取主机的模型列表（按写入顺序）
func (s *Store) GetModelsForHost(hostID int64) ([]Model, error) {
	return getModelsForHost(s.db, hostID)
}

// CountModelsForHost 获取主机的模型数量
func (s *Store) CountModelsForHost(hostID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM models WHERE host_id = ?`, hostID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count models for host %d: %w", hostID, err)
	}
	return n, nil
}

// AddModels 见 Store.AddModels
func (t *Tx) AddModels(hostID int64, models []ModelInfo) error {
	return addModels(t.tx, hostID, models)
}

// ClearModelsForHost 见 Store.ClearModelsForHost
func (t *Tx) ClearModelsForHost(hostID int64) (int64, error) {
	return clearModelsForHost(t.tx, hostID)
}

// ReplaceModels 清空后写入；调用方负责提交事务
func (t *Tx) ReplaceModels(hostID int64, models []ModelInfo) error {
	if _, err := clearModelsForHost(t.tx, hostID); err != nil {
		return err
	}
	return addModels(t.tx, hostID, models)
}

// GetModelsForHost 见 Store.GetModelsForHost
func (t *Tx) GetModelsForHost(hostID int64) ([]Model, error) {
	return getModelsForHost(t.tx, hostID)
}

func addModels(tx *sql.Tx, hostID int64, models []ModelInfo) error {
	if len(models) == 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM hosts WHERE id = ?)`, hostID).Scan(&exists); err != nil {
		return fmt.Errorf("check host %d: %w", hostID, err)
	}
	if !exists {
		logger.Warn("写入模型跳过：主机不存在 host_id=%d models=%d", hostID, len(models))
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO models (host_id, name, modified_at, parameter_size, quantization_level, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare model insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, m := range models {
		if _, err := stmt.Exec(hostID, m.Name, m.ModifiedAt, m.ParameterSize, m.QuantizationLevel, now); err != nil {
			return fmt.Errorf("insert model %s for host %d: %w", m.Name, hostID, err)
		}
	}
	return nil
}

func clearModelsForHost(q querier, hostID int64) (int64, error) {
	res, err := q.Exec(`DELETE FROM models WHERE host_id = ?`, hostID)
	if err != nil {
		return 0, fmt.Errorf("clear models for host %d: %w", hostID, err)
	}
	return res.RowsAffected()
}

func getModelsForHost(q querier, hostID int64) ([]Model, error) {
	rows, err := q.Query(`
		SELECT id, host_id, COALESCE(name, ''), COALESCE(modified_at, ''),
			COALESCE(parameter_size, ''), COALESCE(quantization_level, ''), scanned_at
		FROM models
		WHERE host_id = ?
		ORDER BY id
	`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list models for host %d: %w", hostID, err)
	}
	defer rows.Close()

	models := []Model{}
	for rows.Next() {
		var (
			m         Model
			scannedAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.HostID, &m.Name, &m.ModifiedAt, &m.ParameterSize, &m.QuantizationLevel, &scannedAt); err != nil {
			return nil, err
		}
		if scannedAt.Valid {
			m.ScannedAt = scannedAt.Time
		}
		models = append(models, m)
	}
	return models, rows.Err()
}
