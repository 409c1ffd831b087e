package dealstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/agentworkforce/dealsync/internal/deals"
)

const (
	sellerTableName         = "seller"
	buyerTableName          = "buyer"
	dealTableName           = "deal"
	defaultOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	name                 string
	driverName           string
	quoteIdentifier      func(string) string
	numberedPlaceholders bool
	insertReturningID    bool
}

var (
	postgresDialect = sqlDialect{
		name:                 "postgres",
		driverName:           "postgres",
		quoteIdentifier:      postgresQuoteIdentifier,
		numberedPlaceholders: true,
		insertReturningID:    true,
	}
	mysqlDialect = sqlDialect{
		name:            "mysql",
		driverName:      "mysql",
		quoteIdentifier: mysqlQuoteIdentifier,
	}
)

// rebind rewrites ? placeholders into the dialect's form.
func (d sqlDialect) rebind(query string) string {
	if !d.numberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps parties and deals in the seller, buyer and deal tables.
// Each call checks out its own connection and returns it before exiting.
type SQLStore struct {
	dsn        string
	dialect    sqlDialect
	timeout    time.Duration
	partyTable map[deals.Role]string
	dealTable  string
	openDB     sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string, opts Options) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, deals.ErrInvalidInput
	}
	return newSQLStore(dsn, postgresDialect, opts), nil
}

// NewMySQLStore accepts either a driver DSN (user:pass@tcp(host)/db) or the
// same DSN prefixed with mysql://.
func NewMySQLStore(dsn string, opts Options) (*SQLStore, error) {
	dsn = strings.TrimPrefix(strings.TrimSpace(dsn), "mysql://")
	if dsn == "" {
		return nil, deals.ErrInvalidInput
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return newSQLStore(cfg.FormatDSN(), mysqlDialect, opts), nil
}

func newSQLStore(dsn string, dialect sqlDialect, opts Options) *SQLStore {
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return &SQLStore{
		dsn:     dsn,
		dialect: dialect,
		timeout: timeout,
		partyTable: map[deals.Role]string{
			deals.RoleSeller: sellerTableName,
			deals.RoleBuyer:  buyerTableName,
		},
		dealTable: dealTableName,
		openDB:    sql.Open,
	}
}

func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return deals.ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driverName, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.withConn(ctx, "ping", func(ctx context.Context, conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

func (s *SQLStore) withConn(ctx context.Context, op string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	if err := s.ensureReady(); err != nil {
		return persistenceErr(op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return persistenceErr(op, err)
	}
	defer conn.Close()
	return persistenceErr(op, fn(ctx, conn))
}

func (s *SQLStore) table(name string) string {
	return s.dialect.quoteIdentifier(name)
}

func (s *SQLStore) FindDealByNumber(ctx context.Context, number string) (*deals.Deal, error) {
	query := s.dialect.rebind(fmt.Sprintf(`
		SELECT d.deal_number, d.deal_date, d.volume_buyer, d.volume_seller,
			s.id, s.name, s.inn, b.id, b.name, b.inn
		FROM %s d
		JOIN %s s ON s.id = d.seller_id
		JOIN %s b ON b.id = d.buyer_id
		WHERE d.deal_number = ?
		LIMIT 1`,
		s.table(s.dealTable), s.table(s.partyTable[deals.RoleSeller]), s.table(s.partyTable[deals.RoleBuyer])))

	var found *deals.Deal
	err := s.withConn(ctx, "find deal "+number, func(ctx context.Context, conn *sql.Conn) error {
		var (
			deal                      deals.Deal
			volumeBuyer, volumeSeller decimal.NullDecimal
			sellerInn, buyerInn       sql.NullString
		)
		err := conn.QueryRowContext(ctx, query, number).Scan(
			&deal.Number, &deal.Date, &volumeBuyer, &volumeSeller,
			&deal.Seller.ID, &deal.Seller.Name, &sellerInn,
			&deal.Buyer.ID, &deal.Buyer.Name, &buyerInn,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		deal.Date = deals.CalendarDay(deal.Date)
		deal.VolumeBuyer = volumeBuyer.Decimal
		deal.VolumeSeller = volumeSeller.Decimal
		deal.Seller.TaxID = sellerInn.String
		deal.Buyer.TaxID = buyerInn.String
		found = &deal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *SQLStore) FindPartyByName(ctx context.Context, role deals.Role, name string) (*deals.Party, error) {
	op := "find " + role.String()
	if err := validateRole(role); err != nil {
		return nil, persistenceErr(op, err)
	}
	query := s.dialect.rebind(fmt.Sprintf("SELECT id, name, inn FROM %s WHERE name = ? LIMIT 1", s.table(s.partyTable[role])))

	var found *deals.Party
	err := s.withConn(ctx, op, func(ctx context.Context, conn *sql.Conn) error {
		var (
			party deals.Party
			inn   sql.NullString
		)
		err := conn.QueryRowContext(ctx, query, name).Scan(&party.ID, &party.Name, &inn)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		party.TaxID = inn.String
		found = &party
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *SQLStore) InsertParty(ctx context.Context, role deals.Role, name, taxID string) (int64, error) {
	op := "insert " + role.String()
	if err := validateRole(role); err != nil {
		return 0, persistenceErr(op, err)
	}
	query := fmt.Sprintf("INSERT INTO %s (name, inn) VALUES (?, ?)", s.table(s.partyTable[role]))
	if s.dialect.insertReturningID {
		query += " RETURNING id"
	}
	query = s.dialect.rebind(query)

	var id int64
	err := s.withConn(ctx, op, func(ctx context.Context, conn *sql.Conn) error {
		if s.dialect.insertReturningID {
			return conn.QueryRowContext(ctx, query, name, taxID).Scan(&id)
		}
		result, err := conn.ExecContext(ctx, query, name, taxID)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, persistenceErr(op, fmt.Errorf("store assigned no id to %s %q", role, name))
	}
	return id, nil
}

func (s *SQLStore) UpdatePartyTaxID(ctx context.Context, role deals.Role, id int64, taxID string) error {
	op := "update " + role.String()
	if err := validateRole(role); err != nil {
		return persistenceErr(op, err)
	}
	query := s.dialect.rebind(fmt.Sprintf("UPDATE %s SET inn = ? WHERE id = ?", s.table(s.partyTable[role])))
	return s.withConn(ctx, op, func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, query, taxID, id)
		if err != nil {
			return err
		}
		return requireAffected(result, fmt.Sprintf("%s id %d", role, id))
	})
}

func (s *SQLStore) InsertDeal(ctx context.Context, deal deals.Deal) error {
	if err := validateResolvedDeal(deal); err != nil {
		return persistenceErr("insert deal", err)
	}
	query := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (deal_number, deal_date, volume_buyer, volume_seller, seller_id, buyer_id)
		VALUES (?, ?, ?, ?, ?, ?)`, s.table(s.dealTable)))
	return s.withConn(ctx, "insert deal "+deal.Number, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, query,
			deal.Number, deals.CalendarDay(deal.Date), deal.VolumeBuyer, deal.VolumeSeller, deal.Seller.ID, deal.Buyer.ID)
		return err
	})
}

func (s *SQLStore) UpdateDeal(ctx context.Context, deal deals.Deal) error {
	if err := validateResolvedDeal(deal); err != nil {
		return persistenceErr("update deal", err)
	}
	query := s.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET deal_date = ?, volume_buyer = ?, volume_seller = ?, seller_id = ?, buyer_id = ?
		WHERE deal_number = ?`, s.table(s.dealTable)))
	return s.withConn(ctx, "update deal "+deal.Number, func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, query,
			deals.CalendarDay(deal.Date), deal.VolumeBuyer, deal.VolumeSeller, deal.Seller.ID, deal.Buyer.ID, deal.Number)
		if err != nil {
			return err
		}
		return requireAffected(result, "deal "+deal.Number)
	})
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func requireAffected(result sql.Result, target string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	return nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func mysqlQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "``"
	}
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}
