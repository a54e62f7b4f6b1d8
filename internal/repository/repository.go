package repository

import (
	"context"

	"github.com/splax/deploywatch/internal/domain"
)

// HookRepository persists deploy hooks. Tokens are stored sealed; callers
// encrypt before CreateHook and decrypt after reads.
type HookRepository interface {
	CreateHook(ctx context.Context, hook *domain.Hook) error
	GetHook(ctx context.Context, id string) (*domain.Hook, error)
	ListHooks(ctx context.Context) ([]domain.Hook, error)
	DeleteHook(ctx context.Context, id string) error
}
