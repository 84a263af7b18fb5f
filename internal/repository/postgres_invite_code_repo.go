package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/mediabot/internal/model"
)

// uniqueViolation はPostgreSQLのUNIQUE制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresInviteCodeRepo はPostgreSQLを使用した招待コードリポジトリ。
type PostgresInviteCodeRepo struct {
	db *sql.DB
}

// NewPostgresInviteCodeRepo はPostgresInviteCodeRepoを生成する。
func NewPostgresInviteCodeRepo(db *sql.DB) *PostgresInviteCodeRepo {
	return &PostgresInviteCodeRepo{db: db}
}

const inviteCodeColumns = `id, code, code_type, create_user_id, create_time, expire_days, is_used, use_user_id, use_time`

// Create は招待コードを作成する。
func (r *PostgresInviteCodeRepo) Create(ctx context.Context, code *model.InviteCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invite_codes (`+inviteCodeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		code.ID, code.Code, string(code.CodeType), code.CreateUserID, code.CreateTime,
		code.ExpireDays, code.IsUsed, code.UseUserID, code.UseTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert invite code: %w", err)
	}
	return nil
}

// FindByCode はコード文字列で招待コードを検索する。見つからない場合はnilを返す。
func (r *PostgresInviteCodeRepo) FindByCode(ctx context.Context, code string) (*model.InviteCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+inviteCodeColumns+` FROM invite_codes WHERE code = $1`,
		code,
	)
	c, err := scanInviteCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invite code: %w", err)
	}
	return c, nil
}

// List は条件に一致する招待コードを作成日時の昇順で返す。
func (r *PostgresInviteCodeRepo) List(ctx context.Context, filter model.CodeFilter) ([]*model.InviteCode, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invite codes: %w", err)
	}
	defer rows.Close()

	var codes []*model.InviteCode
	for rows.Next() {
		c, err := scanInviteCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite code: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invite codes: %w", err)
	}
	return codes, nil
}

// MarkUsed は未使用のコードを使用済みに遷移させる。
func (r *PostgresInviteCodeRepo) MarkUsed(ctx context.Context, id string, useUserID int64, useTime time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invite_codes
		 SET is_used = true, use_user_id = $2, use_time = $3
		 WHERE id = $1 AND is_used = false`,
		id, useUserID, useTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark invite code used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// buildListQuery はフィルタ条件からSELECT文と引数を組み立てる。
func buildListQuery(filter model.CodeFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.CodeType != nil {
		args = append(args, string(*filter.CodeType))
		conds = append(conds, fmt.Sprintf("code_type = $%d", len(args)))
	}
	if filter.IsUsed != nil {
		args = append(args, *filter.IsUsed)
		conds = append(conds, fmt.Sprintf("is_used = $%d", len(args)))
	}

	query := `SELECT ` + inviteCodeColumns + ` FROM invite_codes`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY create_time ASC, id ASC`
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInviteCode(s rowScanner) (*model.InviteCode, error) {
	var (
		c         model.InviteCode
		codeType  string
		useUserID sql.NullInt64
		useTime   sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.Code, &codeType, &c.CreateUserID, &c.CreateTime,
		&c.ExpireDays, &c.IsUsed, &useUserID, &useTime); err != nil {
		return nil, err
	}
	c.CodeType = model.CodeType(codeType)
	if useUserID.Valid {
		v := useUserID.Int64
		c.UseUserID = &v
	}
	if useTime.Valid {
		v := useTime.Time
		c.UseTime = &v
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ InviteCodeRepository = (*PostgresInviteCodeRepo)(nil)
