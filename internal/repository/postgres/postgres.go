package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.MergeRequestRepository = (*Repository)(nil)
	_ repository.CommentRepository      = (*Repository)(nil)
	_ repository.PortRepository         = (*Repository)(nil)
	_ repository.StackRepository        = (*Repository)(nil)
	_ repository.Store                  = (*Repository)(nil)
)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpdateMergeRequest upserts the merge request row with the latest event data.
func (r *Repository) UpdateMergeRequest(ctx context.Context, event domain.CanonicalEvent, status domain.MergeRequestStatus) error {
	const query = `INSERT INTO merge_requests (project_id, mr_id, mr_iid, project_name, merge_request_name, repo, branch, sha, author, provider, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (project_id, mr_id) DO UPDATE SET
			mr_iid = EXCLUDED.mr_iid,
			project_name = EXCLUDED.project_name,
			merge_request_name = EXCLUDED.merge_request_name,
			repo = EXCLUDED.repo,
			branch = EXCLUDED.branch,
			sha = EXCLUDED.sha,
			author = EXCLUDED.author,
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, event.ProjectID, event.MRID, event.MRDisplayID, event.ProjectName, event.Title,
		event.CloneURL, event.Branch, event.CommitSHA, event.Author, string(event.Provider), string(status))
	if err != nil {
		return fmt.Errorf("upsert merge request: %w", err)
	}
	return nil
}

// GetLastCommitSHA returns the last commit recorded for a merge request.
func (r *Repository) GetLastCommitSHA(ctx context.Context, projectID, mrID string) (string, error) {
	const query = `SELECT sha FROM merge_requests WHERE project_id = $1 AND mr_id = $2`
	var sha string
	if err := r.pool.QueryRow(ctx, query, projectID, mrID).Scan(&sha); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", err
	}
	return sha, nil
}

// GetCommentID returns the stored status comment id.
func (r *Repository) GetCommentID(ctx context.Context, projectID, mrID string) (string, error) {
	const query = `SELECT comment_id FROM merge_requests WHERE project_id = $1 AND mr_id = $2`
	var commentID *string
	if err := r.pool.QueryRow(ctx, query, projectID, mrID).Scan(&commentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", err
	}
	if commentID == nil || *commentID == "" {
		return "", repository.ErrNotFound
	}
	return *commentID, nil
}

// SetCommentID stores the status comment id, creating a placeholder row when needed.
func (r *Repository) SetCommentID(ctx context.Context, projectID, mrID, commentID string) error {
	const query = `INSERT INTO merge_requests (project_id, mr_id, status, comment_id)
		VALUES ($1, $2, 'open', $3)
		ON CONFLICT (project_id, mr_id) DO UPDATE SET comment_id = EXCLUDED.comment_id, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, projectID, mrID, commentID)
	return err
}

// FindLease fetches a lease by key.
func (r *Repository) FindLease(ctx context.Context, key domain.LeaseKey) (*domain.PortLease, error) {
	const query = `SELECT project_id, mr_id, service, name, internal_port, external_port
		FROM exposed_ports WHERE project_id = $1 AND mr_id = $2 AND service = $3 AND name = $4`
	row := r.pool.QueryRow(ctx, query, key.ProjectID, key.MRID, key.Service, key.SlotName)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &lease, nil
}

// UsedPorts returns the ledger-wide set of leased external ports.
func (r *Repository) UsedPorts(ctx context.Context, exclude *domain.LeaseKey) (map[int]struct{}, error) {
	query := `SELECT external_port FROM exposed_ports`
	args := []any{}
	if exclude != nil {
		query += ` WHERE NOT (project_id = $1 AND mr_id = $2 AND service = $3 AND name = $4)`
		args = append(args, exclude.ProjectID, exclude.MRID, exclude.Service, exclude.SlotName)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[int]struct{})
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, err
		}
		used[port] = struct{}{}
	}
	return used, rows.Err()
}

// InsertLease persists a new lease.
func (r *Repository) InsertLease(ctx context.Context, lease domain.PortLease) error {
	const query = `INSERT INTO exposed_ports (project_id, mr_id, service, name, internal_port, external_port)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, lease.ProjectID, lease.MRID, lease.Service, lease.SlotName, lease.InternalPort, lease.ExternalPort)
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

// UpdateLeasePort re-points an existing lease.
func (r *Repository) UpdateLeasePort(ctx context.Context, key domain.LeaseKey, externalPort int) error {
	const query = `UPDATE exposed_ports SET external_port = $5
		WHERE project_id = $1 AND mr_id = $2 AND service = $3 AND name = $4`
	tag, err := r.pool.Exec(ctx, query, key.ProjectID, key.MRID, key.Service, key.SlotName, externalPort)
	if err != nil {
		return fmt.Errorf("update lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteLeases drops all leases of a merge request.
func (r *Repository) DeleteLeases(ctx context.Context, projectID, mrID string) error {
	const query = `DELETE FROM exposed_ports WHERE project_id = $1 AND mr_id = $2`
	_, err := r.pool.Exec(ctx, query, projectID, mrID)
	return err
}

// LeasesFor lists the leases of a merge request.
func (r *Repository) LeasesFor(ctx context.Context, projectID, mrID string) ([]domain.PortLease, error) {
	const query = `SELECT project_id, mr_id, service, name, internal_port, external_port
		FROM exposed_ports WHERE project_id = $1 AND mr_id = $2
		ORDER BY service, name`
	rows, err := r.pool.Query(ctx, query, projectID, mrID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leases := make([]domain.PortLease, 0)
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

// SaveStack upserts a stack record.
func (r *Repository) SaveStack(ctx context.Context, stack domain.StackRecord) error {
	ports, err := json.Marshal(nonNilPorts(stack.Ports))
	if err != nil {
		return fmt.Errorf("encode stack ports: %w", err)
	}
	links, err := json.Marshal(nonNilLinks(stack.Links))
	if err != nil {
		return fmt.Errorf("encode stack links: %w", err)
	}
	const query = `INSERT INTO stacks (project_id, mr_id, project_name, merge_request_name, ports, provider, status, links, orchestrator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (project_id, mr_id) DO UPDATE SET
			project_name = EXCLUDED.project_name,
			merge_request_name = EXCLUDED.merge_request_name,
			ports = EXCLUDED.ports,
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			links = EXCLUDED.links,
			orchestrator = EXCLUDED.orchestrator,
			updated_at = NOW()`
	_, err = r.pool.Exec(ctx, query, stack.ProjectID, stack.MRID, stack.ProjectName, stack.MRName, ports,
		string(stack.Provider), string(stack.Status), links, stack.Orchestrator)
	if err != nil {
		return fmt.Errorf("save stack: %w", err)
	}
	return nil
}

const stackColumns = `project_id, mr_id, project_name, merge_request_name, ports, provider, status, links, orchestrator, created_at, updated_at`

// GetStack fetches one stack record.
func (r *Repository) GetStack(ctx context.Context, projectID, mrID string) (*domain.StackRecord, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks WHERE project_id = $1 AND mr_id = $2`
	stack, err := scanStack(r.pool.QueryRow(ctx, query, projectID, mrID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &stack, nil
}

// UpdateStackStatus flips the status of an existing record.
func (r *Repository) UpdateStackStatus(ctx context.Context, projectID, mrID string, status domain.StackStatus) error {
	const query = `UPDATE stacks SET status = $3, updated_at = NOW() WHERE project_id = $1 AND mr_id = $2`
	tag, err := r.pool.Exec(ctx, query, projectID, mrID, string(status))
	if err != nil {
		return fmt.Errorf("update stack status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RemoveStack deletes a stack record.
func (r *Repository) RemoveStack(ctx context.Context, projectID, mrID string) error {
	const query = `DELETE FROM stacks WHERE project_id = $1 AND mr_id = $2`
	_, err := r.pool.Exec(ctx, query, projectID, mrID)
	return err
}

// ListStacks returns every stack record.
func (r *Repository) ListStacks(ctx context.Context) ([]domain.StackRecord, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stacks := make([]domain.StackRecord, 0)
	for rows.Next() {
		stack, err := scanStack(rows)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, rows.Err()
}

func scanLease(row pgx.Row) (domain.PortLease, error) {
	var lease domain.PortLease
	var internal *int32
	if err := row.Scan(&lease.ProjectID, &lease.MRID, &lease.Service, &lease.SlotName, &internal, &lease.ExternalPort); err != nil {
		return domain.PortLease{}, err
	}
	if internal != nil {
		value := int(*internal)
		lease.InternalPort = &value
	}
	return lease, nil
}

func scanStack(row pgx.Row) (domain.StackRecord, error) {
	var (
		stack    domain.StackRecord
		ports    []byte
		links    []byte
		provider string
		status   string
	)
	if err := row.Scan(&stack.ProjectID, &stack.MRID, &stack.ProjectName, &stack.MRName, &ports, &provider, &status, &links,
		&stack.Orchestrator, &stack.CreatedAt, &stack.UpdatedAt); err != nil {
		return domain.StackRecord{}, err
	}
	stack.Provider = domain.Provider(provider)
	stack.Status = domain.StackStatus(status)
	stack.Ports = map[string]int{}
	stack.Links = map[string]string{}
	if len(ports) > 0 {
		if err := json.Unmarshal(ports, &stack.Ports); err != nil {
			return domain.StackRecord{}, fmt.Errorf("decode stack ports: %w", err)
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &stack.Links); err != nil {
			return domain.StackRecord{}, fmt.Errorf("decode stack links: %w", err)
		}
	}
	return stack, nil
}

func nonNilPorts(ports map[string]int) map[string]int {
	if ports == nil {
		return map[string]int{}
	}
	return ports
}

func nonNilLinks(links map[string]string) map[string]string {
	if links == nil {
		return map[string]string{}
	}
	return links
}
