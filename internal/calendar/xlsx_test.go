package calendar

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func newTestCalendar(t *testing.T, slots []Slot) *XLSXCalendar {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.xlsx")
	c, err := NewXLSXCalendar(path)
	if err != nil {
		t.Fatalf("NewXLSXCalendar: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	for i, s := range slots {
		row := []interface{}{s.Date, s.Time, s.Capacity, s.Booked}
		if err := f.SetSheetRow(sheetSlots, cellA(i+2), &row); err != nil {
			t.Fatalf("seed slot: %v", err)
		}
	}
	if err := f.Save(); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return c
}

func cellA(row int) string {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	return cell
}

func TestListAvailableSlotsFiltersFullAndOutOfWindow(t *testing.T) {
	c := newTestCalendar(t, []Slot{
		{Date: "2026-09-02", Time: "10:00", Capacity: 2, Booked: 0},
		{Date: "2026-09-02", Time: "14:00", Capacity: 1, Booked: 1}, // full
		{Date: "2026-10-20", Time: "10:00", Capacity: 2, Booked: 0}, // out of window
	})

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	slots, err := c.ListAvailableSlots(context.Background(), from, 7)
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1: %+v", len(slots), slots)
	}
	if slots[0].Time != "10:00" || slots[0].Date != "2026-09-02" {
		t.Errorf("slot = %+v", slots[0])
	}
}

func TestBookSlotUntilFull(t *testing.T) {
	c := newTestCalendar(t, []Slot{
		{Date: "2026-09-02", Time: "10:00", Capacity: 2, Booked: 0},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := c.BookSlot(ctx, "2026-09-02", "10:00")
		if err != nil {
			t.Fatalf("BookSlot #%d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("BookSlot #%d refused with capacity left", i+1)
		}
	}

	ok, err := c.BookSlot(ctx, "2026-09-02", "10:00")
	if err != nil {
		t.Fatalf("BookSlot over capacity: %v", err)
	}
	if ok {
		t.Error("booked past capacity")
	}
}

func TestBookUnknownSlot(t *testing.T) {
	c := newTestCalendar(t, nil)
	ok, err := c.BookSlot(context.Background(), "2026-09-02", "10:00")
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if ok {
		t.Error("booked a slot that does not exist")
	}
}

func TestReleaseRestoresCapacity(t *testing.T) {
	c := newTestCalendar(t, []Slot{
		{Date: "2026-09-02", Time: "10:00", Capacity: 1, Booked: 1},
	})
	ctx := context.Background()

	if err := c.ReleaseSlot(ctx, "2026-09-02", "10:00"); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	ok, err := c.BookSlot(ctx, "2026-09-02", "10:00")
	if err != nil || !ok {
		t.Fatalf("BookSlot after release: ok=%v err=%v", ok, err)
	}

	// Releasing an already-free slot floors at zero.
	if err := c.ReleaseSlot(ctx, "2026-09-03", "09:00"); err != nil {
		t.Fatalf("ReleaseSlot unknown: %v", err)
	}
}

func TestAppendCandidate(t *testing.T) {
	c := newTestCalendar(t, nil)

	export := CandidateExport{
		FullName:       "Иван Петров",
		Phone:          "+79990001122",
		VacancyTitle:   "Курьер",
		InterviewDate:  "2026-09-02",
		InterviewTime:  "10:00",
		ConversationID: "conv-1",
		ExportedAt:     time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC),
	}
	if err := c.AppendCandidate(context.Background(), export); err != nil {
		t.Fatalf("AppendCandidate: %v", err)
	}

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetCandidates)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	if rows[1][0] != "Иван Петров" || rows[1][3] != "2026-09-02" {
		t.Errorf("exported row = %v", rows[1])
	}
}
