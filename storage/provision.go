package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

// EnsureQueue creates the event queue when it does not exist yet.
func (p *QueuePublisher) EnsureQueue(ctx context.Context) error {
	_, err := p.queue.Create(ctx, nil)
	if err != nil && !alreadyExists(err, queueAlreadyExists) {
		return err
	}
	return nil
}

// EnsureTable creates the report table when it does not exist yet.
func (a *TableArchive) EnsureTable(ctx context.Context) error {
	_, err := a.table.CreateTable(ctx, nil)
	if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	return nil
}

// Provision prepares whichever Azure resources are configured. Nil
// resources are skipped.
func Provision(ctx context.Context, logger *log.Logger, q *QueuePublisher, a *TableArchive) error {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if q != nil {
		if err := q.EnsureQueue(ctx); err != nil {
			return err
		}
		logger.Debug("event queue ready")
	}
	if a != nil {
		if err := a.EnsureTable(ctx); err != nil {
			return err
		}
		logger.Debug("report table ready")
	}
	return nil
}
