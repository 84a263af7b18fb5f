package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/mediabot/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, telegram_id, username, service_user_id, invite_code, score, status, expire_at, created_at, updated_at`

// FindByTelegramID はTelegram IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// List は条件に一致するユーザーを有効期限の昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context, filter model.UserFilter) ([]*model.User, error) {
	query, args := buildUserListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// buildUserListQuery はフィルタ条件からSELECT文と引数を組み立てる。
func buildUserListQuery(filter model.UserFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ExpireBefore != nil {
		args = append(args, *filter.ExpireBefore)
		conds = append(conds, fmt.Sprintf("expire_at < $%d", len(args)))
	}
	if filter.ExpireNotBefore != nil {
		args = append(args, *filter.ExpireNotBefore)
		conds = append(conds, fmt.Sprintf("expire_at >= $%d", len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY expire_at ASC NULLS LAST, telegram_id ASC`
	return query, args
}

func scanUser(s rowScanner) (*model.User, error) {
	var (
		user     model.User
		status   string
		expireAt sql.NullTime
	)
	if err := s.Scan(
		&user.ID, &user.TelegramID, &user.Username, &user.ServiceUserID, &user.InviteCode,
		&user.Score, &status, &expireAt, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Status = model.UserStatus(status)
	if expireAt.Valid {
		v := expireAt.Time
		user.ExpireAt = &v
	}
	return &user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.TelegramID, user.Username, user.ServiceUserID, user.InviteCode,
		user.Score, string(user.Status), user.ExpireAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ExtendExpireAt は有効期限をdays日延長し、延長後の期限を返す。
// 基準日の決定と更新を1つのUPDATE文で行い、行ロックにより同時延長を直列化する。
func (r *PostgresUserRepo) ExtendExpireAt(ctx context.Context, telegramID int64, days int, now time.Time) (time.Time, error) {
	var expireAt time.Time
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET expire_at = GREATEST(COALESCE(expire_at, $3), $3) + make_interval(days => $2),
		     updated_at = now()
		 WHERE telegram_id = $1
		 RETURNING expire_at`,
		telegramID, days, now,
	).Scan(&expireAt)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("user not found: %d", telegramID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to extend expire_at: %w", err)
	}
	return expireAt, nil
}

// UpdateStatus はユーザーの状態を更新する。
func (r *PostgresUserRepo) UpdateStatus(ctx context.Context, telegramID int64, status model.UserStatus) error {
	return r.execOne(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE telegram_id = $1`,
		telegramID, string(status),
	)
}

// UpdateScore はスコアを更新する。
func (r *PostgresUserRepo) UpdateScore(ctx context.Context, telegramID int64, score int) error {
	return r.execOne(ctx,
		`UPDATE users SET score = $2, updated_at = now() WHERE telegram_id = $1`,
		telegramID, score,
	)
}

// DeleteByTelegramID は指定Telegram IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByTelegramID(ctx context.Context, telegramID int64) error {
	return r.execOne(ctx, `DELETE FROM users WHERE telegram_id = $1`, telegramID)
}

// Count は登録ユーザー数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// execOne は1行を対象とする更新系SQLを実行し、対象が無い場合はエラーを返す。
func (r *PostgresUserRepo) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", args[0])
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
