package mssql

import (
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/gotds/internal/wire"
)

func TestFromWireNullIsKindNull(t *testing.T) {
	v := fromWire(nil, wire.TypeMetadata{Type: wire.TypeIntN})
	if !v.IsNull() {
		t.Fatalf("expected IsNull, got kind %s", v.Kind())
	}
}

func TestFromWireDisambiguatesGUIDFromString(t *testing.T) {
	guid := "6F9619FF-8B86-D011-B42D-00C04FC964FF"
	gv := fromWire(guid, wire.TypeMetadata{Type: wire.TypeGUID})
	if gv.Kind() != KindGUID {
		t.Fatalf("GUID column decoded as %s, want guid", gv.Kind())
	}
	got, ok := gv.GUID()
	if !ok || got != guid {
		t.Fatalf("GUID() = %q, %v; want %q, true", got, ok, guid)
	}

	sv := fromWire("plain text", wire.TypeMetadata{Type: wire.TypeNVarChar})
	if sv.Kind() != KindString {
		t.Fatalf("NVARCHAR column decoded as %s, want string", sv.Kind())
	}
}

func TestFromWireDateTimeOffsetVsPlainDateTime(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)

	plain := fromWire(now, wire.TypeMetadata{Type: wire.TypeDateTimeN})
	if plain.Kind() != KindDateTime {
		t.Fatalf("DATETIME column decoded as %s, want datetime", plain.Kind())
	}

	offset := fromWire(now, wire.TypeMetadata{Type: wire.TypeDateTimeOffsetN, Scale: 7})
	if offset.Kind() != KindDateTimeOffset {
		t.Fatalf("DATETIMEOFFSET column decoded as %s, want datetimeoffset", offset.Kind())
	}
}

func TestFromWireDateTime2(t *testing.T) {
	raw := wire.DateTime2{
		Date: civil.Date{Year: 2026, Month: 7, Day: 30},
		Time: civil.Time{Hour: 14, Minute: 5, Second: 9},
	}
	v := fromWire(raw, wire.TypeMetadata{Type: wire.TypeDateTime2N, Scale: 3})
	if v.Kind() != KindDateTime2 {
		t.Fatalf("kind = %s, want datetime2", v.Kind())
	}
	dt, ok := v.DateTime2()
	if !ok {
		t.Fatal("DateTime2() ok = false")
	}
	if dt.Date != raw.Date || dt.Time != raw.Time {
		t.Fatalf("DateTime2() = %+v, want date=%+v time=%+v", dt, raw.Date, raw.Time)
	}
}

func TestFromWireDateTimeOffsetCombinesOffset(t *testing.T) {
	raw := wire.DateTimeOffset{
		Date:      civil.Date{Year: 2026, Month: 1, Day: 1},
		Time:      civil.Time{Hour: 0, Minute: 0, Second: 0},
		OffsetMin: -300, // UTC-5
	}
	v := fromWire(raw, wire.TypeMetadata{Type: wire.TypeDateTimeOffsetN})
	got, ok := v.DateTimeOffset()
	if !ok {
		t.Fatal("DateTimeOffset() ok = false")
	}
	_, offsetSec := got.Zone()
	if offsetSec != -300*60 {
		t.Fatalf("zone offset = %d sec, want %d", offsetSec, -300*60)
	}
}

func TestDecimalValueDerivesPrecisionScale(t *testing.T) {
	d := decimal.RequireFromString("123.4500")
	v := DecimalValue(d)
	if v.precision == 0 {
		t.Fatal("precision not derived")
	}
	if v.scale != 4 {
		t.Fatalf("scale = %d, want 4", v.scale)
	}
}

func TestToWireParamRoundTripsScalarKinds(t *testing.T) {
	cases := []Value{
		NullValue(),
		BoolValue(true),
		IntValue(42),
		FloatValue(3.5),
		StringValue("hello"),
		BytesValue([]byte{1, 2, 3}),
		GUIDValue("00000000-0000-0000-0000-000000000001"),
		DateTimeValue(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
	}
	for _, val := range cases {
		meta, wv, err := toWireParam(val)
		if err != nil {
			t.Fatalf("toWireParam(%s): %v", val.Kind(), err)
		}
		if meta.Type == 0 && val.Kind() != KindNull {
			t.Fatalf("toWireParam(%s): zero TypeMetadata", val.Kind())
		}
		if back := fromWire(wv, meta); back.Kind() != val.Kind() {
			t.Fatalf("fromWire(toWireParam(%s)) kind = %s", val.Kind(), back.Kind())
		}
	}
}

func TestToWireParamEncodesDateTimeKinds(t *testing.T) {
	cases := []struct {
		val      Value
		wantType wire.SQLType
	}{
		{DateValue(civil.Date{Year: 2026, Month: 1, Day: 1}), wire.TypeDateN},
		{TimeValue(civil.Time{Hour: 1}, 3), wire.TypeTimeN},
		{DateTime2Value(civil.DateTime{
			Date: civil.Date{Year: 2026, Month: 7, Day: 30},
			Time: civil.Time{Hour: 14, Minute: 5, Second: 9},
		}, 3), wire.TypeDateTime2N},
		{DateTimeOffsetValue(time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)), 7), wire.TypeDateTimeOffsetN},
	}
	for _, c := range cases {
		meta, wv, err := toWireParam(c.val)
		if err != nil {
			t.Fatalf("toWireParam(%s): %v", c.val.Kind(), err)
		}
		if meta.Type != c.wantType {
			t.Fatalf("toWireParam(%s): TypeMetadata.Type = %v, want %v", c.val.Kind(), meta.Type, c.wantType)
		}
		if wv == nil {
			t.Fatalf("toWireParam(%s): nil wire value", c.val.Kind())
		}
	}
}

func TestToWireParamRejectsVariant(t *testing.T) {
	if _, _, err := toWireParam(VariantValue(wire.Variant{})); err == nil {
		t.Fatal("toWireParam(variant): expected error, got nil")
	}
}
