package imagerepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

const selectColumns = `id, vin, storage_key, image_type, priority, created_at`

// Repo is a Postgres implementation of imagerepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) ListByVIN(ctx context.Context, q imagerepo.Query) (imagerepo.Page, error) {
	if r.pool == nil {
		return imagerepo.Page{}, errors.New("nil postgres pool")
	}

	where := []string{"vin = $1"}
	args := []any{string(q.VIN)}
	if t, ok := q.Type.Get(); ok {
		args = append(args, string(t))
		where = append(where, fmt.Sprintf("image_type = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var page imagerepo.Page
	// Count and page are read from one snapshot so Total always describes Records.
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM car_images WHERE `+whereSQL, args...).Scan(&page.Total); err != nil {
			return err
		}

		var sb strings.Builder
		sb.WriteString(`SELECT ` + selectColumns + ` FROM car_images WHERE ` + whereSQL)
		sb.WriteString(` ORDER BY (priority IS TRUE) DESC, id DESC`)
		pageArgs := append([]any(nil), args...)
		if q.Limit > 0 {
			offset := q.Offset
			if offset < 0 {
				offset = 0
			}
			pageArgs = append(pageArgs, q.Limit, offset)
			sb.WriteString(fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(pageArgs)-1, len(pageArgs)))
		}

		rows, err := tx.Query(ctx, sb.String(), pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		page.Records = make([]imagerepo.Record, 0)
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			page.Records = append(page.Records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return imagerepo.Page{}, err
	}
	// Keep the canonical order regardless of how the planner breaks ties.
	sortRecords(page.Records)
	return page, nil
}

func (r *Repo) Create(ctx context.Context, rec imagerepo.Record) (imagerepo.Record, error) {
	if r.pool == nil {
		return imagerepo.Record{}, errors.New("nil postgres pool")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var row pgx.Row
	if rec.ID == 0 {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO car_images (vin, storage_key, image_type, priority, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+selectColumns,
			string(rec.VIN), rec.StorageKey, string(rec.Type), rec.Priority, createdAt.UTC(),
		)
	} else {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO car_images (id, vin, storage_key, image_type, priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+selectColumns,
			int64(rec.ID), string(rec.VIN), rec.StorageKey, string(rec.Type), rec.Priority, createdAt.UTC(),
		)
	}
	out, err := scanRecord(row)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
			return imagerepo.Record{}, imagerepo.ErrAlreadyExists
		}
		return imagerepo.Record{}, err
	}
	return out, nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.ImageID) (imagerepo.Record, error) {
	if r.pool == nil {
		return imagerepo.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM car_images WHERE id = $1`, int64(id))
	return scanRecord(row)
}

func (r *Repo) Delete(ctx context.Context, id domain.ImageID) (imagerepo.Record, error) {
	if r.pool == nil {
		return imagerepo.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `DELETE FROM car_images WHERE id = $1 RETURNING `+selectColumns, int64(id))
	return scanRecord(row)
}

func (r *Repo) SetPriority(ctx context.Context, id domain.ImageID, priority *bool) (imagerepo.Record, error) {
	if r.pool == nil {
		return imagerepo.Record{}, errors.New("nil postgres pool")
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE car_images
		SET priority = $2
		WHERE id = $1
		RETURNING `+selectColumns,
		int64(id), priority,
	)
	return scanRecord(row)
}

// --- helpers ---

func scanRecord(row interface {
	Scan(dest ...any) error
}) (imagerepo.Record, error) {
	var (
		id         int64
		vin        string
		storageKey string
		imageType  string
		priority   *bool
		createdAt  time.Time
	)
	if err := row.Scan(&id, &vin, &storageKey, &imageType, &priority, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return imagerepo.Record{}, imagerepo.ErrNotFound
		}
		return imagerepo.Record{}, err
	}
	return imagerepo.Record{
		ID:         domain.ImageID(id),
		VIN:        domain.VIN(vin),
		StorageKey: storageKey,
		Type:       domain.ImageType(imageType),
		Priority:   priority,
		CreatedAt:  createdAt.UTC(),
	}, nil
}

func sortRecords(rs []imagerepo.Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		return domain.ImageLess(isMain(rs[i]), rs[i].ID, isMain(rs[j]), rs[j].ID)
	})
}

func isMain(rec imagerepo.Record) bool { return rec.Priority != nil && *rec.Priority }
