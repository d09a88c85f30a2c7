package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
)

// Client - Supabase(PostgREST) 테이블 접근. 삭제는 모두 soft-delete
type Client struct {
	supabase *supabase.Client
}

// NewClient - Supabase 클라이언트 초기화
func NewClient(supabaseURL, serviceKey string) (*Client, error) {
	supabaseClient, err := supabase.NewClient(supabaseURL, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// SelectActive - deleted_at 이 null 인 행 조회 (filters: column → eq 값)
func (c *Client) SelectActive(table string, filters map[string]string, out any) error {
	query := c.supabase.From(table).
		Select("*", "", false).
		Is("deleted_at", "null")
	for column, value := range filters {
		query = query.Eq(column, value)
	}

	data, _, err := query.Execute()
	if err != nil {
		return fmt.Errorf("%w: select %s: %v", model.ErrStorage, table, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", model.ErrStorage, table, err)
	}
	return nil
}

// Insert - 행 추가 후 저장된 행을 out 에 디코딩
func (c *Client) Insert(table string, row any, out any) error {
	data, _, err := c.supabase.From(table).
		Insert(row, false, "", "representation", "").
		Execute()
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", model.ErrStorage, table, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", model.ErrStorage, table, err)
	}
	return nil
}

// SoftDelete - deleted_at 기록 (+ extra 컬럼). 이미 삭제됐거나 없으면 ErrNotFound
func (c *Client) SoftDelete(table, id string, extra map[string]any) error {
	updateData := map[string]any{"deleted_at": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range extra {
		updateData[k] = v
	}

	data, _, err := c.supabase.From(table).
		Update(updateData, "representation", "").
		Eq("id", id).
		Is("deleted_at", "null").
		Execute()
	if err != nil {
		return fmt.Errorf("%w: soft delete %s: %v", model.ErrStorage, table, err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: parse %s: %v", model.ErrStorage, table, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, table, id)
	}

	log := logger.For("database")
	log.Info().Msgf("🗑️ [Database] Soft-deleted %s %s", table, id)
	return nil
}
