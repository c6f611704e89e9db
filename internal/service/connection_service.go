package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"vibin-go/internal/model"
	"vibin-go/internal/repository"
)

var (
	// ErrInvalidUsername 表示用户名为空或归一化后为空。
	ErrInvalidUsername = errors.New("invalid username")
	// ErrSameUser 表示两个用户名归一化后相同。
	ErrSameUser = errors.New("actor and target must differ")
	// ErrInvalidStatus 表示关系状态不属于固定枚举。
	ErrInvalidStatus = errors.New("invalid connection status")
)

// normalizeUsername 统一用户名形态：去除首尾空白并转小写。
func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ConnectionService 定义了关系状态机的业务接口。
type ConnectionService interface {
	SetConnection(ctx context.Context, actor, target string, desired model.ConnectionState) (*model.ConnectionState, error)
	GetOutgoing(ctx context.Context, user string) (map[string]model.ConnectionState, error)
	GetIncoming(ctx context.Context, user string) (map[string]model.ConnectionState, error)
	ApplyOutgoingMap(ctx context.Context, actor string, desired map[string]model.ConnectionState) error
	ApplyIncomingMap(ctx context.Context, target string, desired map[string]model.ConnectionState) error
}

type connectionService struct {
	repo repository.ConnectionRepository
	now  func() time.Time
}

// NewConnectionService 创建一个新的 ConnectionService。
func NewConnectionService(repo repository.ConnectionRepository) ConnectionService {
	return &connectionService{repo: repo, now: time.Now}
}

// SetConnection 设置 actor 对 target 的关系状态并镜像到对侧。
// status 为 none 时删除两侧记录（缺失即 none）；否则两侧写入同一份 JSON。
func (s *connectionService) SetConnection(ctx context.Context, actor, target string, desired model.ConnectionState) (*model.ConnectionState, error) {
	a, t := normalizeUsername(actor), normalizeUsername(target)
	if a == "" || t == "" {
		return nil, ErrInvalidUsername
	}
	if a == t {
		return nil, ErrSameUser
	}
	if !desired.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	state := sanitizeState(desired, s.now())

	if state.Status == model.ConnectionNone {
		if err := s.repo.DeleteMirror(ctx, a, t); err != nil {
			return nil, err
		}
		return &state, nil
	}

	if err := s.repo.WriteMirror(ctx, a, t, state); err != nil {
		return nil, err
	}
	return &state, nil
}

// sanitizeState 规范化待写入的状态：刷新 updatedAt、修剪别名，
// 且仅在匿名且状态为 want/both 时保留别名。
func sanitizeState(desired model.ConnectionState, now time.Time) model.ConnectionState {
	state := model.ConnectionState{
		Status:    desired.Status,
		Anonymous: desired.Anonymous,
		Alias:     strings.TrimSpace(desired.Alias),
		UpdatedAt: now,
	}
	aliasAllowed := state.Anonymous &&
		(state.Status == model.ConnectionWant || state.Status == model.ConnectionBoth)
	if !aliasAllowed {
		state.Alias = ""
	}
	return state
}

// GetOutgoing 返回 user 的全部对外关系。
func (s *connectionService) GetOutgoing(ctx context.Context, user string) (map[string]model.ConnectionState, error) {
	u := normalizeUsername(user)
	if u == "" {
		return nil, ErrInvalidUsername
	}
	return s.repo.GetOutgoing(ctx, u)
}

// GetIncoming 返回指向 user 的全部关系。
func (s *connectionService) GetIncoming(ctx context.Context, user string) (map[string]model.ConnectionState, error) {
	u := normalizeUsername(user)
	if u == "" {
		return nil, ErrInvalidUsername
	}
	return s.repo.GetIncoming(ctx, u)
}

// ApplyOutgoingMap 以 desired 整体替换 actor 的对外关系：
// 现存但不在 desired 中的条目显式置为 none（即删除），绝不留下陈旧记录。
func (s *connectionService) ApplyOutgoingMap(ctx context.Context, actor string, desired map[string]model.ConnectionState) error {
	a := normalizeUsername(actor)
	if a == "" {
		return ErrInvalidUsername
	}

	current, err := s.repo.GetOutgoing(ctx, a)
	if err != nil {
		return err
	}

	normalized := make(map[string]model.ConnectionState, len(desired))
	for target, state := range desired {
		t := normalizeUsername(target)
		if t == "" || t == a {
			continue
		}
		normalized[t] = state
	}

	for target := range current {
		if _, keep := normalized[target]; !keep {
			if _, err := s.SetConnection(ctx, a, target, model.ConnectionState{Status: model.ConnectionNone}); err != nil {
				return err
			}
		}
	}
	for target, state := range normalized {
		if _, err := s.SetConnection(ctx, a, target, state); err != nil {
			return err
		}
	}
	return nil
}

// ApplyIncomingMap 以 desired 整体替换指向 target 的关系。
// 每一项仍然通过 SetConnection 写镜像，保证两侧一致。
func (s *connectionService) ApplyIncomingMap(ctx context.Context, target string, desired map[string]model.ConnectionState) error {
	t := normalizeUsername(target)
	if t == "" {
		return ErrInvalidUsername
	}

	current, err := s.repo.GetIncoming(ctx, t)
	if err != nil {
		return err
	}

	normalized := make(map[string]model.ConnectionState, len(desired))
	for actor, state := range desired {
		a := normalizeUsername(actor)
		if a == "" || a == t {
			continue
		}
		normalized[a] = state
	}

	for actor := range current {
		if _, keep := normalized[actor]; !keep {
			if _, err := s.SetConnection(ctx, actor, t, model.ConnectionState{Status: model.ConnectionNone}); err != nil {
				return err
			}
		}
	}
	for actor, state := range normalized {
		if _, err := s.SetConnection(ctx, actor, t, state); err != nil {
			return err
		}
	}
	return nil
}
