package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/refresh"
)

// Syncer pulls one institution connection from its provider.
type Syncer interface {
	SyncConnection(ctx context.Context, ic *connection.InstitutionConnection) (*refresh.SyncResult, error)
}

// ConnectionSyncJob refreshes the accounts and transactions of one institution connection.
type ConnectionSyncJob struct {
	syncer Syncer
	conn   *connection.InstitutionConnection
}

func NewConnectionSyncJob(syncer Syncer, ic *connection.InstitutionConnection) *ConnectionSyncJob {
	return &ConnectionSyncJob{syncer: syncer, conn: ic}
}

func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncer.SyncConnection(ctx, j.conn)
	if err != nil {
		return fmt.Errorf("failed to sync connection %d: %w", j.conn.ID, err)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("sync of connection %d finished with %d errors: %s",
			j.conn.ID, len(result.Errors), strings.Join(result.Errors, "; "))
	}

	log.Printf("User %s: %s connection %d synced: accounts=%d created=%d updated=%d skipped=%d",
		j.conn.UserID, j.conn.ProviderName, j.conn.ID, result.Accounts, result.Created, result.Updated, result.Skipped)
	return nil
}

func (j *ConnectionSyncJob) Key() string {
	return fmt.Sprintf("connection:%d", j.conn.ID)
}

func (j *ConnectionSyncJob) UserID() string {
	return j.conn.UserID
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("%s sync of connection %d", j.conn.ProviderName, j.conn.ID)
}

// ConnectionLister lists the institution connections held through a provider.
type ConnectionLister interface {
	Connections(ctx context.Context, providerName string) ([]*connection.InstitutionConnection, error)
}

// ConnectionJobs builds a JobProvider that emits one job per healthy connection
// of each poll-only provider.
func ConnectionJobs(lister ConnectionLister, syncer Syncer, providers []string) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		var jobs []Job
		for _, name := range providers {
			ics, err := lister.Connections(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s connections: %w", name, err)
			}
			for _, ic := range ics {
				if ic.Broken {
					continue
				}
				jobs = append(jobs, NewConnectionSyncJob(syncer, ic))
			}
		}
		return jobs, nil
	}
}
