package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

var shifts = []string{"09:00 - 17:00", "08:30 - 14:30", "10:00 - 18:00", "9:00 AM - 1:00 PM"}

func main() {
	dentists := flag.Int("dentists", 12, "dentists to upsert")
	bookings := flag.Int("bookings", 200, "bookings to attempt over the next days")
	days := flag.Int("days", 5, "days ahead to spread bookings over")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Init("seed", "dev", "info")
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("seed", cfg.Env, cfg.LogLevel)
	if cfg.Store != config.StorePostgres {
		log.Fatal().Str("store", cfg.Store).Msg("seed writes to postgres, set STORE=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	// zero asks gofakeit for a random seed
	gofakeit.Seed(0)

	codes, err := seedDentists(ctx, directory.NewPgDirectory(a.Pool), *dentists)
	if err != nil {
		log.Fatal().Err(err).Msg("seed dentists")
	}
	seedBookings(ctx, a.Service, codes, *bookings, *days)

	log.Info().Msg("seed complete")
}

func seedDentists(ctx context.Context, dir *directory.PgDirectory, count int) ([]string, error) {
	log.Info().Int("count", count).Msg("seeding dentists")

	codes := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		shift := shifts[gofakeit.Number(0, len(shifts)-1)]
		hours := make(map[string]string, 7)
		for d := time.Sunday; d <= time.Saturday; d++ {
			hours[directory.WeekdayKey(d)] = shift
		}
		// one random weekday off, Sundays always off
		hours[directory.WeekdayKey(time.Sunday)] = directory.NotAvailable
		hours[directory.WeekdayKey(time.Weekday(gofakeit.Number(1, 6)))] = directory.NotAvailable

		d := directory.Dentist{
			Code:         fmt.Sprintf("DEN-%02d", i),
			Name:         "Dr. " + gofakeit.Name(),
			Active:       gofakeit.Number(1, 10) > 1,
			WorkingHours: hours,
		}
		if err := dir.Upsert(ctx, d); err != nil {
			return nil, err
		}
		if d.Active {
			codes = append(codes, d.Code)
		}
	}
	return codes, nil
}

func randomPatient() appointment.Patient {
	switch gofakeit.Number(0, 2) {
	case 0:
		return appointment.RegisteredPatient{Code: fmt.Sprintf("PT-%05d", gofakeit.Number(1, 99999))}
	case 1:
		return appointment.GuestPatient{
			Name:  gofakeit.Name(),
			Phone: gofakeit.Phone(),
			Email: gofakeit.Email(),
		}
	default:
		return appointment.BookedForOther{
			BookerCode: fmt.Sprintf("PT-%05d", gofakeit.Number(1, 99999)),
			Name:       gofakeit.FirstName() + " " + gofakeit.LastName(),
			Contact:    gofakeit.Phone(),
			Relation:   gofakeit.RandomString([]string{"child", "parent", "spouse", "sibling"}),
		}
	}
}

// seedBookings books random free slots. Rejections are expected once a
// dentist-day fills up and only get counted.
func seedBookings(ctx context.Context, svc *appointment.Service, dentists []string, count, days int) {
	if len(dentists) == 0 || days <= 0 {
		return
	}
	reasons := []string{"checkup", "cleaning", "filling", "root canal", "extraction", "braces adjustment"}

	created, rejected := 0, 0
	for i := 0; i < count; i++ {
		dentist := dentists[gofakeit.Number(0, len(dentists)-1)]
		day, err := appointment.AddDays(svc.Today(), gofakeit.Number(0, days-1), svc.Location())
		if err != nil {
			log.Fatal().Err(err).Msg("compute day")
		}

		free, err := svc.ListAvailableSlots(ctx, dentist, day, 0)
		if err != nil {
			log.Fatal().Err(err).Str("dentist", dentist).Str("day", day).Msg("list available slots")
		}
		if len(free) == 0 {
			rejected++
			continue
		}
		pick := free[gofakeit.Number(0, len(free)-1)]

		_, err = svc.CreateAppointment(ctx, appointment.CreateInput{
			DentistCode: dentist,
			StartsAt:    pick.Start,
			Patient:     randomPatient(),
			Reason:      reasons[gofakeit.Number(0, len(reasons)-1)],
		})
		switch {
		case err == nil:
			created++
		case appointment.KindOf(err) != "":
			rejected++
		default:
			log.Fatal().Err(err).Msg("create appointment")
		}
	}

	log.Info().Int("created", created).Int("rejected", rejected).Msg("bookings seeded")
}
