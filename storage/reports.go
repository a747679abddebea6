package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"kanban-api/domain"
)

// maxReportChars keeps a report inside the table service's property limit.
const maxReportChars = 30000

type reportTable interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type reportEntity struct {
	aztables.Entity
	Provider  string `json:"Provider"`
	Content   string `json:"Content"`
	CreatedAt string `json:"CreatedAt"`
}

// TableArchive keeps generated task reports in Azure Table Storage,
// partitioned by task id and listed newest first.
type TableArchive struct {
	table reportTable
}

// NewTableArchive connects to the named table.
func NewTableArchive(connStr, tableName string) (*TableArchive, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableArchive{table: svc.NewClient(tableName)}, nil
}

// Save stores r as a new row.
func (a *TableArchive) Save(ctx context.Context, r domain.Report) error {
	content := r.Content
	if runes := []rune(content); len(runes) > maxReportChars {
		content = string(runes[:maxReportChars])
	}
	ent := reportEntity{
		Entity: aztables.Entity{
			PartitionKey: r.TaskID,
			RowKey:       reportRowKey(r.CreatedAt),
		},
		Provider:  r.Provider,
		Content:   content,
		CreatedAt: formatTime(r.CreatedAt),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = a.table.AddEntity(ctx, payload, nil)
	return err
}

// List returns every archived report for taskID, newest first.
func (a *TableArchive) List(ctx context.Context, taskID string) ([]domain.Report, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(taskID, "'", "''") + "'"
	pager := a.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	reports := []domain.Report{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent reportEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			created, err := parseTime("CreatedAt", ent.CreatedAt)
			if err != nil {
				return nil, err
			}
			reports = append(reports, domain.Report{
				TaskID:    ent.PartitionKey,
				Provider:  ent.Provider,
				Content:   ent.Content,
				CreatedAt: created,
			})
		}
	}
	return reports, nil
}

// reportRowKey inverts the timestamp so the table's lexical row order is
// newest first.
func reportRowKey(t time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-t.UnixNano())
}
