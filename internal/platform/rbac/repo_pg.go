package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const roleColumns = `id, name, description, is_system, updated_by, created_at, updated_at`
const permissionColumns = `id, category, action, resource, description, created_at`

func (r *repoPG) FindRoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	return scanRole(r.conn(ctx).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (r *repoPG) FindRoleByName(ctx context.Context, name RoleName) (*Role, error) {
	return scanRole(r.conn(ctx).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, string(name)))
}

func (r *repoPG) FindRoleWithPermissions(ctx context.Context, id uuid.UUID) (*Role, error) {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.category, p.action, p.resource, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY rp.position`, id)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	return role, rows.Err()
}

func (r *repoPG) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *repoPG) CreateRole(ctx context.Context, role *Role) error {
	role.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO roles (id, name, description, is_system, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		role.ID, string(role.Name), role.Description, role.IsSystem, role.UpdatedBy,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
}

func (r *repoPG) FindPermissionByName(ctx context.Context, name string) (*Permission, error) {
	return scanPermission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
}

func (r *repoPG) FindPermissionsByCategory(ctx context.Context, category Category) ([]*Permission, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE category = $1 ORDER BY name`, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *repoPG) CreatePermission(ctx context.Context, perm *Permission) error {
	perm.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO permissions (id, name, category, action, resource, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		perm.ID, perm.Name(), string(perm.Category), string(perm.Action), perm.Resource, perm.Description,
	).Scan(&perm.CreatedAt)
}

func (r *repoPG) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, updatedBy string) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE roles SET updated_by = $2, updated_at = NOW() WHERE id = $1`, roleID, updatedBy)
		if err != nil {
			return fmt.Errorf("touch role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("clear role permissions: %w", err)
		}

		batch := &pgx.Batch{}
		for i, pid := range permissionIDs {
			batch.Queue(`INSERT INTO role_permissions (role_id, permission_id, position) VALUES ($1, $2, $3)`,
				roleID, pid, i)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert role permissions: %w", err)
		}
		return nil
	})
}

func scanRole(row pgx.Row) (*Role, error) {
	var (
		role Role
		name string
	)
	err := row.Scan(&role.ID, &name, &role.Description, &role.IsSystem, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Name = RoleName(name)
	return &role, nil
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var (
		p        Permission
		cat, act string
	)
	err := row.Scan(&p.ID, &cat, &act, &p.Resource, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Category = Category(cat)
	p.Action = Action(act)
	return &p, nil
}
