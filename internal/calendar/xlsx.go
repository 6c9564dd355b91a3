package calendar

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSlots      = "Slots"
	sheetCandidates = "Candidates"
)

// XLSXCalendar keeps slots and the candidate roster in one workbook that the
// recruiting team edits directly. The whole file is re-read on every
// operation so manual edits are picked up without restarts; a process-level
// mutex serializes writers.
type XLSXCalendar struct {
	path string
	mu   sync.Mutex
}

// NewXLSXCalendar opens or creates the workbook.
func NewXLSXCalendar(path string) (*XLSXCalendar, error) {
	c := &XLSXCalendar{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := c.createWorkbook(); err != nil {
			return nil, err
		}
		log.Printf("📅 [CALENDAR] Created new workbook at %s", path)
	}
	return c, nil
}

func (c *XLSXCalendar) createWorkbook() error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetSlots)
	if err != nil {
		return fmt.Errorf("failed to create slots sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.SetSheetRow(sheetSlots, "A1", &[]string{"Date", "Time", "Capacity", "Booked"}); err != nil {
		return fmt.Errorf("failed to write slot headers: %w", err)
	}

	if _, err := f.NewSheet(sheetCandidates); err != nil {
		return fmt.Errorf("failed to create candidates sheet: %w", err)
	}
	headers := []string{"Name", "Phone", "Vacancy", "Interview Date", "Interview Time", "Conversation", "Exported At"}
	if err := f.SetSheetRow(sheetCandidates, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write candidate headers: %w", err)
	}

	f.DeleteSheet("Sheet1")
	if err := f.SaveAs(c.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// ListAvailableSlots returns slots with free seats inside the window.
func (c *XLSXCalendar) ListAvailableSlots(_ context.Context, from time.Time, days int) ([]Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	slots, err := readSlots(f)
	if err != nil {
		return nil, err
	}

	fromDay := from.Format("2006-01-02")
	untilDay := from.AddDate(0, 0, days).Format("2006-01-02")

	var available []Slot
	for _, s := range slots {
		if s.Free() <= 0 {
			continue
		}
		if s.Date < fromDay || s.Date > untilDay {
			continue
		}
		available = append(available, s)
	}
	return available, nil
}

// BookSlot takes one seat; returns false when full or unknown.
func (c *XLSXCalendar) BookSlot(_ context.Context, date, timeOfDay string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return false, fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	row, slot, err := findSlot(f, date, timeOfDay)
	if err != nil {
		return false, err
	}
	if row == 0 || slot.Free() <= 0 {
		return false, nil
	}

	cell := fmt.Sprintf("D%d", row)
	if err := f.SetCellInt(sheetSlots, cell, int64(slot.Booked+1)); err != nil {
		return false, fmt.Errorf("failed to update slot: %w", err)
	}
	if err := f.Save(); err != nil {
		return false, fmt.Errorf("failed to save calendar: %w", err)
	}
	log.Printf("📅 [CALENDAR] Booked slot %s %s (%d/%d)", date, timeOfDay, slot.Booked+1, slot.Capacity)
	return true, nil
}

// ReleaseSlot returns one seat, floored at zero.
func (c *XLSXCalendar) ReleaseSlot(_ context.Context, date, timeOfDay string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	row, slot, err := findSlot(f, date, timeOfDay)
	if err != nil {
		return err
	}
	if row == 0 || slot.Booked == 0 {
		return nil
	}

	cell := fmt.Sprintf("D%d", row)
	if err := f.SetCellInt(sheetSlots, cell, int64(slot.Booked-1)); err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save calendar: %w", err)
	}
	log.Printf("📅 [CALENDAR] Released slot %s %s", date, timeOfDay)
	return nil
}

// AppendCandidate adds a booked candidate to the roster.
func (c *XLSXCalendar) AppendCandidate(_ context.Context, export CandidateExport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetCandidates)
	if err != nil {
		return fmt.Errorf("failed to read candidates sheet: %w", err)
	}

	next := len(rows) + 1
	record := []string{
		export.FullName,
		export.Phone,
		export.VacancyTitle,
		export.InterviewDate,
		export.InterviewTime,
		export.ConversationID,
		export.ExportedAt.Format("2006-01-02 15:04"),
	}
	if err := f.SetSheetRow(sheetCandidates, fmt.Sprintf("A%d", next), &record); err != nil {
		return fmt.Errorf("failed to append candidate: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save calendar: %w", err)
	}
	log.Printf("📅 [CALENDAR] Exported candidate %s for %s %s", export.FullName, export.InterviewDate, export.InterviewTime)
	return nil
}

func readSlots(f *excelize.File) ([]Slot, error) {
	rows, err := f.GetRows(sheetSlots)
	if err != nil {
		return nil, fmt.Errorf("failed to read slots sheet: %w", err)
	}

	var slots []Slot
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			continue
		}
		booked := 0
		if len(row) > 3 {
			booked, _ = strconv.Atoi(strings.TrimSpace(row[3]))
		}
		slots = append(slots, Slot{
			Date:     strings.TrimSpace(row[0]),
			Time:     strings.TrimSpace(row[1]),
			Capacity: capacity,
			Booked:   booked,
		})
	}
	return slots, nil
}

// findSlot returns the 1-based sheet row of the slot, or 0 when absent.
func findSlot(f *excelize.File, date, timeOfDay string) (int, Slot, error) {
	rows, err := f.GetRows(sheetSlots)
	if err != nil {
		return 0, Slot{}, fmt.Errorf("failed to read slots sheet: %w", err)
	}
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue
		}
		if strings.TrimSpace(row[0]) != date || strings.TrimSpace(row[1]) != timeOfDay {
			continue
		}
		capacity, _ := strconv.Atoi(strings.TrimSpace(row[2]))
		booked := 0
		if len(row) > 3 {
			booked, _ = strconv.Atoi(strings.TrimSpace(row[3]))
		}
		return i + 1, Slot{Date: date, Time: timeOfDay, Capacity: capacity, Booked: booked}, nil
	}
	return 0, Slot{}, nil
}
