// Package audit — notification sink движка: неблокирующий пакетный конвейер событий
// и хранилища, в которые он их раскладывает.
package audit

import (
	"context"
	"errors"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Auditor принимает события исхода операций. Реализация не должна блокировать вызывающего:
// движок вызывает Log внутри критической секции агента.
type Auditor interface {
	Log(event domain.Event)
}

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []domain.Event) error
}

// FanOut пишет пачку во все хранилища; отказ одного не мешает остальным.
type FanOut []StorageInterface

func (f FanOut) WriteBatch(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
