package mysql

import (
	"errors"
	"fmt"
	"testing"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"tourbook/internal/domain"
)

func TestParseAvailability(t *testing.T) {
	ps, err := parseAvailability([]byte(`[{"from":"2026-05-01","to":"2026-10-31","weekdays":[0,6]}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ps) != 1 || ps[0].Weekdays[1] != time.Saturday || ps[0].To.Month() != time.October {
		t.Fatalf("periods: %+v", ps)
	}

	if ps, err := parseAvailability(nil); err != nil || ps != nil {
		t.Fatalf("null column: %+v %v", ps, err)
	}

	for _, bad := range []string{
		`{"from":"2026-05-01"}`,
		`[{"from":"2026-13-01","to":"2026-10-31"}]`,
		`[{"from":"2026-10-31","to":"2026-05-01"}]`,
		`[{"from":"2026-05-01","to":"2026-10-31","weekdays":[7]}]`,
	} {
		if _, err := parseAvailability([]byte(bad)); !errors.Is(err, domain.ErrMalformedRecord) {
			t.Fatalf("%s: expected malformed record, got %v", bad, err)
		}
	}
}

func TestDuplicateKey(t *testing.T) {
	intentErr := fmt.Errorf("insert: %w", &driver.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'pi_1' for key 'payments.uq_payments_intent'",
	})
	if !duplicateKey(intentErr, keyPaymentIntent) {
		t.Fatalf("expected intent key match")
	}
	if duplicateKey(intentErr, keyPaymentBooking) {
		t.Fatalf("booking key must not match intent violation")
	}
	if !duplicateKey(intentErr, "") {
		t.Fatalf("empty key matches any duplicate")
	}
	if duplicateKey(&driver.MySQLError{Number: 1213, Message: "Deadlock found"}, "") {
		t.Fatalf("deadlock is not a duplicate")
	}
	if duplicateKey(nil, "") {
		t.Fatalf("nil is not a duplicate")
	}
}

func TestNormalizeDSN_ForcesParseTimeAndUTC(t *testing.T) {
	for _, in := range []string{
		"tourbook:secret@tcp(db:3306)/tourbook",
		"tourbook:secret@tcp(db:3306)/tourbook?parseTime=false&loc=Local&charset=utf8mb4",
	} {
		out, err := NormalizeDSN(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		c, err := driver.ParseDSN(out)
		if err != nil {
			t.Fatalf("reparse %q: %v", out, err)
		}
		if !c.ParseTime || c.Loc != time.UTC {
			t.Fatalf("%q -> %q: parseTime=%v loc=%v", in, out, c.ParseTime, c.Loc)
		}
		if c.DBName != "tourbook" || c.User != "tourbook" || c.Addr != "db:3306" {
			t.Fatalf("%q lost its target: %+v", in, c)
		}
	}

	if _, err := NormalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}
