package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists owners and funds in PostgreSQL. Balance-affecting
// writes run inside a single database transaction with the owner rows locked.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

type tableSet struct {
	owners   string
	funds    string
	ownerCol string
	email    string
}

// tablesFor maps an owner kind to its fixed table names. The names are
// constants, never user input, so they are safe to format into queries.
func tablesFor(kind OwnerKind) tableSet {
	if kind == KindClass {
		return tableSet{owners: "classes", funds: "class_funds", ownerCol: "class_id", email: "''"}
	}
	return tableSet{owners: "students", funds: "student_funds", ownerCol: "student_id", email: "COALESCE(email, '')"}
}

func (t tableSet) ownerColumns() string {
	return fmt.Sprintf("id, name, %s, balance, created_at, updated_at", t.email)
}

func (t tableSet) fundColumns() string {
	return fmt.Sprintf("id, %s, amount, kind, date, reason, created_at", t.ownerCol)
}

// CreateOwner inserts an owner with the balance it carries (normally zero).
func (s *PostgresStore) CreateOwner(ctx context.Context, owner Owner) (Owner, error) {
	t := tablesFor(owner.Kind)
	var row pgx.Row
	if owner.Kind == KindStudent {
		row = s.db.QueryRow(ctx, `INSERT INTO students (name, email, balance, created_at, updated_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5) RETURNING id`,
			owner.Name, owner.Email, owner.Balance, owner.CreatedAt, owner.UpdatedAt)
	} else {
		row = s.db.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (name, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4) RETURNING id`, t.owners),
			owner.Name, owner.Balance, owner.CreatedAt, owner.UpdatedAt)
	}
	if err := row.Scan(&owner.ID); err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return Owner{}, fmt.Errorf("%w: %s %q already exists", ErrConflict, owner.Kind, owner.Name)
		}
		return Owner{}, storageError("insert owner", err)
	}
	return owner, nil
}

// GetOwner fetches an owner by identifier.
func (s *PostgresStore) GetOwner(ctx context.Context, kind OwnerKind, id int64) (Owner, error) {
	t := tablesFor(kind)
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.ownerColumns(), t.owners), id)
	owner, err := scanOwner(row, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Owner{}, notFound(kind, "owner", id)
		}
		return Owner{}, storageError("get owner", err)
	}
	return owner, nil
}

// ListOwners returns every owner of a kind ordered by name.
func (s *PostgresStore) ListOwners(ctx context.Context, kind OwnerKind) ([]Owner, error) {
	t := tablesFor(kind)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY name, id`, t.ownerColumns(), t.owners))
	if err != nil {
		return nil, storageError("list owners", err)
	}
	defer rows.Close()

	owners := make([]Owner, 0)
	for rows.Next() {
		owner, err := scanOwner(rows, kind)
		if err != nil {
			return nil, storageError("scan owner", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list owners", err)
	}
	return owners, nil
}

// UpdateOwner writes the profile fields of an owner.
func (s *PostgresStore) UpdateOwner(ctx context.Context, owner Owner) (Owner, error) {
	t := tablesFor(owner.Kind)
	var cmd pgconn.CommandTag
	var err error
	if owner.Kind == KindStudent {
		cmd, err = s.db.Exec(ctx, `UPDATE students SET name = $1, email = NULLIF($2, ''), updated_at = $3 WHERE id = $4`,
			owner.Name, owner.Email, owner.UpdatedAt, owner.ID)
	} else {
		cmd, err = s.db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET name = $1, updated_at = $2 WHERE id = $3`, t.owners),
			owner.Name, owner.UpdatedAt, owner.ID)
	}
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return Owner{}, fmt.Errorf("%w: %s %q already exists", ErrConflict, owner.Kind, owner.Name)
		}
		return Owner{}, storageError("update owner", err)
	}
	if cmd.RowsAffected() == 0 {
		return Owner{}, notFound(owner.Kind, "owner", owner.ID)
	}
	return s.GetOwner(ctx, owner.Kind, owner.ID)
}

// DeleteOwner removes the owner; its funds go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteOwner(ctx context.Context, kind OwnerKind, id int64) (bool, error) {
	t := tablesFor(kind)
	cmd, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.owners), id)
	if err != nil {
		return false, storageError("delete owner", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// GetFund fetches a fund by identifier.
func (s *PostgresStore) GetFund(ctx context.Context, kind OwnerKind, id int64) (Fund, error) {
	t := tablesFor(kind)
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.fundColumns(), t.funds), id)
	fund, err := scanFund(row, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, fundNotFound(kind, id)
		}
		return Fund{}, storageError("get fund", err)
	}
	return fund, nil
}

// ListFunds returns funds most recent first, optionally for one owner.
func (s *PostgresStore) ListFunds(ctx context.Context, kind OwnerKind, filter FundFilter) ([]Fund, error) {
	t := tablesFor(kind)
	query := fmt.Sprintf(`SELECT %s FROM %s`, t.fundColumns(), t.funds)
	args := []any{}
	if filter.OwnerID != nil {
		query += fmt.Sprintf(` WHERE %s = $1`, t.ownerCol)
		args = append(args, *filter.OwnerID)
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list funds", err)
	}
	defer rows.Close()

	funds := make([]Fund, 0)
	for rows.Next() {
		fund, err := scanFund(rows, kind)
		if err != nil {
			return nil, storageError("scan fund", err)
		}
		funds = append(funds, fund)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list funds", err)
	}
	return funds, nil
}

// WithinTx runs fn inside a database transaction and commits only when fn succeeds.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageError("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageError("commit", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockOwners takes row locks in ascending id order so that two units touching
// the same pair of owners cannot deadlock on each other.
func (t *pgTx) LockOwners(ctx context.Context, kind OwnerKind, ids ...int64) error {
	unique := uniqueSorted(ids)
	tables := tablesFor(kind)
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, tables.owners)
	for _, id := range unique {
		var locked int64
		if err := t.tx.QueryRow(ctx, query, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notFound(kind, "owner", id)
			}
			return storageError("lock owner", err)
		}
	}
	return nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, kind OwnerKind, id int64, delta decimal.Decimal) error {
	tables := tablesFor(kind)
	cmd, err := t.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET balance = balance + $1, updated_at = now() WHERE id = $2`, tables.owners), delta, id)
	if err != nil {
		return storageError("adjust balance", err)
	}
	if cmd.RowsAffected() == 0 {
		return notFound(kind, "owner", id)
	}
	return nil
}

// LockFund locks the owning row, plus any extra owners, before the fund row,
// matching the owner-first order used by inserts and cascading owner deletes.
// If the fund changed owner between the read and the lock, the new owner is
// locked as well.
func (t *pgTx) LockFund(ctx context.Context, kind OwnerKind, id int64, with ...int64) (Fund, error) {
	tables := tablesFor(kind)
	var ownerID int64
	if err := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tables.ownerCol, tables.funds), id).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, fundNotFound(kind, id)
		}
		return Fund{}, storageError("read fund", err)
	}
	locked := append([]int64{ownerID}, with...)
	if err := t.LockOwners(ctx, kind, locked...); err != nil {
		return Fund{}, err
	}

	row := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, tables.fundColumns(), tables.funds), id)
	fund, err := scanFund(row, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, fundNotFound(kind, id)
		}
		return Fund{}, storageError("lock fund", err)
	}
	if !slices.Contains(locked, fund.OwnerID) {
		if err := t.LockOwners(ctx, kind, fund.OwnerID); err != nil {
			return Fund{}, err
		}
	}
	return fund, nil
}

func (t *pgTx) InsertFund(ctx context.Context, fund Fund) (Fund, error) {
	tables := tablesFor(fund.OwnerKind)
	query := fmt.Sprintf(`INSERT INTO %s (%s, amount, kind, date, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, tables.funds, tables.ownerCol)
	if err := t.tx.QueryRow(ctx, query, fund.OwnerID, fund.Amount, string(fund.Kind), fund.Date, fund.Reason, fund.CreatedAt).Scan(&fund.ID); err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return Fund{}, notFound(fund.OwnerKind, "owner", fund.OwnerID)
		}
		return Fund{}, storageError("insert fund", err)
	}
	return fund, nil
}

func (t *pgTx) UpdateFund(ctx context.Context, fund Fund) (Fund, error) {
	tables := tablesFor(fund.OwnerKind)
	query := fmt.Sprintf(`UPDATE %s SET %s = $1, amount = $2, kind = $3, date = $4, reason = $5
        WHERE id = $6 RETURNING created_at`, tables.funds, tables.ownerCol)
	if err := t.tx.QueryRow(ctx, query, fund.OwnerID, fund.Amount, string(fund.Kind), fund.Date, fund.Reason, fund.ID).Scan(&fund.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, fundNotFound(fund.OwnerKind, fund.ID)
		}
		if isPgCode(err, pgForeignKeyViolation) {
			return Fund{}, notFound(fund.OwnerKind, "owner", fund.OwnerID)
		}
		return Fund{}, storageError("update fund", err)
	}
	fund.CreatedAt = fund.CreatedAt.UTC()
	return fund, nil
}

func (t *pgTx) DeleteFund(ctx context.Context, kind OwnerKind, id int64) (bool, error) {
	tables := tablesFor(kind)
	cmd, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tables.funds), id)
	if err != nil {
		return false, storageError("delete fund", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func scanOwner(row pgx.Row, kind OwnerKind) (Owner, error) {
	owner := Owner{Kind: kind}
	if err := row.Scan(&owner.ID, &owner.Name, &owner.Email, &owner.Balance, &owner.CreatedAt, &owner.UpdatedAt); err != nil {
		return Owner{}, err
	}
	owner.CreatedAt = owner.CreatedAt.UTC()
	owner.UpdatedAt = owner.UpdatedAt.UTC()
	return owner, nil
}

func scanFund(row pgx.Row, kind OwnerKind) (Fund, error) {
	fund := Fund{OwnerKind: kind}
	var fundKind string
	if err := row.Scan(&fund.ID, &fund.OwnerID, &fund.Amount, &fundKind, &fund.Date, &fund.Reason, &fund.CreatedAt); err != nil {
		return Fund{}, err
	}
	fund.Kind = FundKind(fundKind)
	fund.Date = civilDate(fund.Date)
	fund.CreatedAt = fund.CreatedAt.UTC()
	return fund, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func uniqueSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
