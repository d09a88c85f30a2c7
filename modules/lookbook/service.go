package lookbook

import (
	"fmt"
	"sort"
	"strings"

	"stylist-server/modules/common/model"
)

// Store - lookbook 이 쓰는 테이블 연산 (database.Client)
type Store interface {
	SelectActive(table string, filters map[string]string, out any) error
	Insert(table string, row any, out any) error
	SoftDelete(table, id string, extra map[string]any) error
}

// Service - lookbook / vote / resource CRUD
type Service struct {
	db Store
}

func NewService(db Store) *Service {
	return &Service{db: db}
}

func (s *Service) CreateLookbook(lb Lookbook) (*Lookbook, error) {
	lb.UserID = strings.TrimSpace(lb.UserID)
	lb.Title = strings.TrimSpace(lb.Title)
	if lb.UserID == "" || lb.Title == "" {
		return nil, fmt.Errorf("%w: user_id and title are required", model.ErrValidation)
	}
	if lb.ImageURLs == nil {
		lb.ImageURLs = []string{}
	}
	lb.ID, lb.CreatedAt, lb.DeletedAt = "", "", nil
	lb.State = StateActive

	var rows []Lookbook
	if err := s.db.Insert(tableLookbooks, lb, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert returned no rows", model.ErrStorage)
	}
	return &rows[0], nil
}

// ListLookbooks - 최신순
func (s *Service) ListLookbooks(userID string) ([]Lookbook, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	rows := []Lookbook{}
	if err := s.db.SelectActive(tableLookbooks, map[string]string{"user_id": userID}, &rows); err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt > rows[j].CreatedAt })
	return rows, nil
}

func (s *Service) GetLookbook(id string) (*Lookbook, error) {
	var rows []Lookbook
	if err := s.db.SelectActive(tableLookbooks, map[string]string{"id": id}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: lookbook %s", model.ErrNotFound, id)
	}
	return &rows[0], nil
}

func (s *Service) DeleteLookbook(id string) error {
	return s.db.SoftDelete(tableLookbooks, id, map[string]any{"state": StateDeleted})
}

// CreateVote - value 는 1(좋아요) 또는 -1(싫어요)
func (s *Service) CreateVote(v Vote) (*Vote, error) {
	if v.UserID == "" || v.JobID == "" {
		return nil, fmt.Errorf("%w: user_id and job_id are required", model.ErrValidation)
	}
	if v.Value != 1 && v.Value != -1 {
		return nil, fmt.Errorf("%w: value must be 1 or -1", model.ErrValidation)
	}
	if v.SuggestionIndex < 0 {
		return nil, fmt.Errorf("%w: suggestion_index must be non-negative", model.ErrValidation)
	}
	v.ID, v.CreatedAt, v.DeletedAt = "", "", nil

	var rows []Vote
	if err := s.db.Insert(tableVotes, v, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert returned no rows", model.ErrStorage)
	}
	return &rows[0], nil
}

func (s *Service) DeleteVote(id string) error {
	return s.db.SoftDelete(tableVotes, id, nil)
}

func (s *Service) CreateResource(r Resource) (*Resource, error) {
	if r.UserID == "" || r.Kind == "" || r.URL == "" {
		return nil, fmt.Errorf("%w: user_id, kind and url are required", model.ErrValidation)
	}
	r.ID, r.CreatedAt, r.DeletedAt = "", "", nil

	var rows []Resource
	if err := s.db.Insert(tableResources, r, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: insert returned no rows", model.ErrStorage)
	}
	return &rows[0], nil
}

func (s *Service) ListResources(userID, kind string) ([]Resource, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	filters := map[string]string{"user_id": userID}
	if kind != "" {
		filters["kind"] = kind
	}
	rows := []Resource{}
	if err := s.db.SelectActive(tableResources, filters, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) DeleteResource(id string) error {
	return s.db.SoftDelete(tableResources, id, nil)
}
