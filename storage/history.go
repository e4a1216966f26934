package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"listings_sync/models"
)

// =============================================================================
// Listing History Fields
// =============================================================================

// UpsertListingHistoryFields stores the hints, keeping previously stored
// values where the new payload has none.
func (s *PostgresStore) UpsertListingHistoryFields(ctx context.Context, f *models.ListingHistoryFields) error {
	query := `
		INSERT INTO listing_history_fields (
			listing_key, original_list_price, previous_list_price, price_change_timestamp,
			back_on_market_entry_timestamp, original_entry_timestamp,
			terminated_entry_timestamp, suspended_entry_timestamp, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (listing_key) DO UPDATE SET
			original_list_price = COALESCE(EXCLUDED.original_list_price, listing_history_fields.original_list_price),
			previous_list_price = COALESCE(EXCLUDED.previous_list_price, listing_history_fields.previous_list_price),
			price_change_timestamp = COALESCE(EXCLUDED.price_change_timestamp, listing_history_fields.price_change_timestamp),
			back_on_market_entry_timestamp = COALESCE(EXCLUDED.back_on_market_entry_timestamp, listing_history_fields.back_on_market_entry_timestamp),
			original_entry_timestamp = COALESCE(EXCLUDED.original_entry_timestamp, listing_history_fields.original_entry_timestamp),
			terminated_entry_timestamp = COALESCE(EXCLUDED.terminated_entry_timestamp, listing_history_fields.terminated_entry_timestamp),
			suspended_entry_timestamp = COALESCE(EXCLUDED.suspended_entry_timestamp, listing_history_fields.suspended_entry_timestamp),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		f.ListingKey, f.OriginalListPrice, f.PreviousListPrice, f.PriceChangeTimestamp,
		f.BackOnMarketEntryTimestamp, f.OriginalEntryTimestamp,
		f.TerminatedEntryTimestamp, f.SuspendedEntryTimestamp,
	)
	return err
}

func (s *PostgresStore) GetListingHistoryFields(ctx context.Context, listingKey string) (*models.ListingHistoryFields, error) {
	query := `
		SELECT listing_key, original_list_price, previous_list_price, price_change_timestamp,
			back_on_market_entry_timestamp, original_entry_timestamp,
			terminated_entry_timestamp, suspended_entry_timestamp
		FROM listing_history_fields WHERE listing_key = $1`

	var f models.ListingHistoryFields
	err := s.pool.QueryRow(ctx, query, listingKey).Scan(
		&f.ListingKey, &f.OriginalListPrice, &f.PreviousListPrice, &f.PriceChangeTimestamp,
		&f.BackOnMarketEntryTimestamp, &f.OriginalEntryTimestamp,
		&f.TerminatedEntryTimestamp, &f.SuspendedEntryTimestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// =============================================================================
// Listing Periods
// =============================================================================

const periodColumns = `listing_key, unparsed_address, address_key, date_start, date_end, status,
	initial_price, final_price, sold_price, close_date, updated_at`

func scanPeriod(row pgx.Row) (*models.ListingPeriod, error) {
	var p models.ListingPeriod
	err := row.Scan(
		&p.ListingKey, &p.UnparsedAddress, &p.AddressKey, &p.DateStart, &p.DateEnd, &p.Status,
		&p.InitialPrice, &p.FinalPrice, &p.SoldPrice, &p.CloseDate, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertListingPeriod(ctx context.Context, p *models.ListingPeriod) error {
	query := `
		INSERT INTO listing_periods (
			listing_key, unparsed_address, address_key, date_start, date_end, status,
			initial_price, final_price, sold_price, close_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (listing_key) DO UPDATE SET
			unparsed_address = EXCLUDED.unparsed_address,
			address_key = EXCLUDED.address_key,
			date_start = EXCLUDED.date_start,
			date_end = EXCLUDED.date_end,
			status = EXCLUDED.status,
			initial_price = COALESCE(listing_periods.initial_price, EXCLUDED.initial_price),
			final_price = EXCLUDED.final_price,
			sold_price = EXCLUDED.sold_price,
			close_date = EXCLUDED.close_date,
			updated_at = NOW()
		RETURNING updated_at`

	return s.pool.QueryRow(ctx, query,
		p.ListingKey, p.UnparsedAddress, p.AddressKey, p.DateStart, p.DateEnd, p.Status,
		p.InitialPrice, p.FinalPrice, p.SoldPrice, p.CloseDate,
	).Scan(&p.UpdatedAt)
}

func (s *PostgresStore) GetListingPeriod(ctx context.Context, listingKey string) (*models.ListingPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM listing_periods WHERE listing_key = $1`

	p, err := scanPeriod(s.pool.QueryRow(ctx, query, listingKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CurrentListingPeriodForAddress returns the most recently started period at
// an address. Equal start dates are ordered by listing key.
func (s *PostgresStore) CurrentListingPeriodForAddress(ctx context.Context, addressKey string) (*models.ListingPeriod, error) {
	query := `SELECT ` + periodColumns + `
		FROM listing_periods
		WHERE address_key = $1
		ORDER BY date_start DESC, listing_key DESC
		LIMIT 1`

	p, err := scanPeriod(s.pool.QueryRow(ctx, query, addressKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListPeriodsForAddress(ctx context.Context, addressKey string) ([]models.ListingPeriod, error) {
	query := `SELECT ` + periodColumns + `
		FROM listing_periods
		WHERE address_key = $1
		ORDER BY date_start DESC, listing_key DESC`

	rows, err := s.pool.Query(ctx, query, addressKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []models.ListingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

// =============================================================================
// Price Changes
// =============================================================================

func (s *PostgresStore) UpsertPriceChange(ctx context.Context, pc *models.PriceChange) error {
	query := `
		INSERT INTO price_changes (
			listing_key, change_date, price, previous_price, change_percent,
			event_type, unparsed_address, address_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (listing_key, change_date) DO UPDATE SET
			price = EXCLUDED.price,
			previous_price = EXCLUDED.previous_price,
			change_percent = EXCLUDED.change_percent,
			event_type = EXCLUDED.event_type,
			unparsed_address = EXCLUDED.unparsed_address,
			address_key = EXCLUDED.address_key`

	_, err := s.pool.Exec(ctx, query,
		pc.ListingKey, pc.ChangeDate, pc.Price, pc.PreviousPrice, pc.ChangePercent,
		pc.EventType, pc.UnparsedAddress, pc.AddressKey,
	)
	if err != nil {
		return fmt.Errorf("upsert price change %s@%s: %w", pc.ListingKey, pc.ChangeDate.Format("2006-01-02"), err)
	}
	return nil
}

// ListPriceChanges returns the events for an address, or for a single
// listing when the address is unknown.
func (s *PostgresStore) ListPriceChanges(ctx context.Context, addressKey, listingKey string) ([]models.PriceChange, error) {
	query := `
		SELECT listing_key, change_date, price, previous_price, change_percent,
			event_type, unparsed_address, address_key
		FROM price_changes
		WHERE ($1 <> '' AND address_key = $1) OR ($1 = '' AND listing_key = $2)
		ORDER BY change_date, listing_key`

	rows, err := s.pool.Query(ctx, query, addressKey, listingKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []models.PriceChange
	for rows.Next() {
		var pc models.PriceChange
		if err := rows.Scan(
			&pc.ListingKey, &pc.ChangeDate, &pc.Price, &pc.PreviousPrice, &pc.ChangePercent,
			&pc.EventType, &pc.UnparsedAddress, &pc.AddressKey,
		); err != nil {
			return nil, err
		}
		changes = append(changes, pc)
	}
	return changes, rows.Err()
}
