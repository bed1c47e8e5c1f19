package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"driveguard/internal/alert"
	"driveguard/internal/auth"
	"driveguard/internal/database"
	"driveguard/internal/events"
	"driveguard/internal/services"
	"driveguard/internal/ws"
)

const (
	drowsyToneHz  = 880
	absenceToneHz = 440
	toneDuration  = time.Second
)

func eventsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	svc := services.NewEventsService(db)
	payload := &services.ListPayload{
		Kind:  c.String(flagKind),
		Limit: c.Int(flagLimit),
	}
	if since := c.Timestamp(flagSince); since != nil {
		payload.Since = since.Format(time.RFC3339)
	}

	if c.Bool(flagSummary) {
		payload.Limit = 0
		summary, err := svc.Summary(c.Context, payload)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tCOUNT\tTOTAL(s)\tMEAN(s)\tMEDIAN(s)\tP95(s)\tMAX(s)\tANOMALOUS")
		for _, k := range summary.Kinds {
			fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\n",
				k.Kind, k.Count, k.TotalSeconds, k.MeanSeconds, k.MedianSecs, k.P95Seconds, k.MaxSeconds, k.Anomalous)
		}
		fmt.Fprintf(w, "total\t%d\n", summary.Total)
		return w.Flush()
	}

	kind := events.Kind(payload.Kind)
	if kind != "" && !kind.Valid() {
		return fmt.Errorf("unknown event type %q", payload.Kind)
	}
	evs, err := db.ListEvents(c.Context, database.EventFilter{
		Kind:  kind,
		Since: c.Timestamp(flagSince),
		Limit: payload.Limit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTYPE\tDETAILS\tDURATION(s)\tLATITUDE\tLONGITUDE\tLOCATION")
	for _, ev := range evs {
		m := ws.NewEventMessage(ev)
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			m.Timestamp, m.EventType, m.Details, m.DurationSeconds, m.Latitude, m.Longitude, m.Location)
	}
	return w.Flush()
}

func tonesAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	for _, tone := range []struct {
		path string
		hz   float64
	}{
		{cfg.Alert.DrowsyTone, drowsyToneHz},
		{cfg.Alert.AbsenceTone, absenceToneHz},
	} {
		info, err := alert.EnsureTone(tone.path, tone.hz, toneDuration)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s: %d Hz, %d ch, %d bit, %s\n",
			info.Path, info.SampleRate, info.Channels, info.BitDepth, info.Duration.Round(time.Millisecond))
	}
	return nil
}

func hashPasswordAction(c *cli.Context) error {
	password := c.Args().First()
	if password == "" {
		return errors.New("usage: driveguard hash-password <password>")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}
