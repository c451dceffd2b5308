package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	"github.com/noah-isme/admission-portal-api/internal/service"
	"github.com/noah-isme/admission-portal-api/pkg/config"
	"github.com/noah-isme/admission-portal-api/pkg/database"
	"github.com/noah-isme/admission-portal-api/pkg/logger"
)

const systemActorID = "system:publish-slots"

type slotPublisher interface {
	Publish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error)
	Unpublish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error)
}

type summary struct {
	Applied int
	Failed  int
}

func main() {
	var (
		path      string
		unpublish bool
		dryRun    bool
		timeout   time.Duration
	)

	flag.StringVar(&path, "file", "", "CSV file with date,label rows")
	flag.BoolVar(&unpublish, "unpublish", false, "Withdraw the listed slots instead of publishing them")
	flag.BoolVar(&dryRun, "dry-run", false, "Parse and print the slots without writing")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	flag.Parse()

	if path == "" {
		log.Fatal("-file is required")
	}

	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer file.Close()

	slots, err := parseSlots(file)
	if err != nil {
		log.Fatalf("failed to parse %s: %v", path, err)
	}

	if dryRun {
		for _, slot := range slots {
			fmt.Printf("%s\t%s\n", slot.Date, slot.Label)
		}
		fmt.Printf("%d slots parsed\n", len(slots))
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Fatal("publish_slots needs the postgres store; in-memory slots do not outlive this process")
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	svc := service.NewSlotService(repository.NewSlotRepository(db), access.NewGate(nil), repository.NewAuditRepository(db), nil, logr)
	result := apply(ctx, svc, slots, unpublish, logr)

	fmt.Printf("applied=%d failed=%d\n", result.Applied, result.Failed)
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// parseSlots reads date,label rows. A header row and blank labels are skipped.
func parseSlots(r io.Reader) ([]dto.SlotRequest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		slots []dto.SlotRequest
		line  int
	)
	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected date,label", line)
		}
		date, label := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if line == 1 && strings.EqualFold(date, "date") {
			continue
		}
		if label == "" {
			continue
		}
		if _, err := time.Parse(models.SlotDateLayout, date); err != nil {
			return nil, fmt.Errorf("line %d: date must be %s", line, models.SlotDateLayout)
		}
		key := date + "|" + label
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		slots = append(slots, dto.SlotRequest{Date: date, Label: label})
	}
	if len(slots) == 0 {
		return nil, errors.New("no slots found")
	}
	return slots, nil
}

func apply(ctx context.Context, svc slotPublisher, slots []dto.SlotRequest, unpublish bool, logr *zap.Logger) summary {
	actor := access.Actor{AccountID: systemActorID, Role: models.RoleAdmin}
	var result summary
	for _, slot := range slots {
		var err error
		if unpublish {
			_, err = svc.Unpublish(ctx, actor, slot)
		} else {
			_, err = svc.Publish(ctx, actor, slot)
		}
		if err != nil {
			result.Failed++
			logr.Warn("slot update failed", zap.String("date", slot.Date), zap.String("label", slot.Label), zap.Error(err))
			continue
		}
		result.Applied++
	}
	return result
}
