package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okulich/newsdeck/internal/schedule"
	"github.com/okulich/newsdeck/internal/store"
)

var (
	registerUser  int64
	registerChat  int64
	registerBatch int

	subscribeUser int64
	subscribeKind string
	subscribeURL  string

	unsubscribeUser int64
	unsubscribeURL  string

	filterUser    int64
	filterInclude []string
	filterExclude []string

	scheduleUser    int64
	scheduleTime    string
	scheduleDays    string
	scheduleDisable bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a user so listings and digests can be delivered",
	RunE:  registerAction,
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe a user to a channel page or RSS feed",
	RunE:  subscribeAction,
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove one of a user's sources",
	RunE:  unsubscribeAction,
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Replace a user's keyword filter",
	RunE:  filterAction,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Set a user's digest schedule",
	RunE:  scheduleAction,
}

func init() {
	registerCmd.Flags().Int64Var(&registerUser, "user", 0, "user id")
	registerCmd.Flags().Int64Var(&registerChat, "chat", 0, "chat id deliveries go to (defaults to the user id)")
	registerCmd.Flags().IntVar(&registerBatch, "batch", 0, "posts per listing and digest")
	_ = registerCmd.MarkFlagRequired("user")

	subscribeCmd.Flags().Int64Var(&subscribeUser, "user", 0, "user id")
	subscribeCmd.Flags().StringVar(&subscribeKind, "kind", string(store.SourceChannel), "source kind: channel or feed")
	subscribeCmd.Flags().StringVar(&subscribeURL, "url", "", "source url")
	_ = subscribeCmd.MarkFlagRequired("user")
	_ = subscribeCmd.MarkFlagRequired("url")

	unsubscribeCmd.Flags().Int64Var(&unsubscribeUser, "user", 0, "user id")
	unsubscribeCmd.Flags().StringVar(&unsubscribeURL, "url", "", "source url")
	_ = unsubscribeCmd.MarkFlagRequired("user")
	_ = unsubscribeCmd.MarkFlagRequired("url")

	filterCmd.Flags().Int64Var(&filterUser, "user", 0, "user id")
	filterCmd.Flags().StringSliceVar(&filterInclude, "include", nil, "keywords a post must mention")
	filterCmd.Flags().StringSliceVar(&filterExclude, "exclude", nil, "keywords that drop a post")
	_ = filterCmd.MarkFlagRequired("user")

	scheduleCmd.Flags().Int64Var(&scheduleUser, "user", 0, "user id")
	scheduleCmd.Flags().StringVar(&scheduleTime, "time", "", "delivery time as HH:MM")
	scheduleCmd.Flags().StringVar(&scheduleDays, "days", "", "comma separated weekdays, e.g. mon,fri (empty means every day)")
	scheduleCmd.Flags().BoolVar(&scheduleDisable, "disable", false, "keep the schedule but stop firing it")
	_ = scheduleCmd.MarkFlagRequired("user")
	_ = scheduleCmd.MarkFlagRequired("time")

	rootCmd.AddCommand(registerCmd, subscribeCmd, unsubscribeCmd, filterCmd, scheduleCmd)
}

func registerAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	chat := registerChat
	if chat == 0 {
		chat = registerUser
	}
	if err := a.db.UpsertUser(ctx, registerUser, chat); err != nil {
		return err
	}
	if registerBatch > 0 {
		if err := a.db.SetBatchSize(ctx, registerUser, registerBatch); err != nil {
			return err
		}
	}
	a.log.WithField("user", registerUser).Info("user registered")
	return nil
}

func subscribeAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.db.AddSource(context.Background(), subscribeUser, store.SourceRef{
		Kind: store.SourceKind(subscribeKind),
		URL:  subscribeURL,
	})
	if err != nil {
		return err
	}
	a.log.WithField("user", subscribeUser).WithField("url", subscribeURL).Info("source added")
	return nil
}

func unsubscribeAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.RemoveSource(context.Background(), unsubscribeUser, unsubscribeURL); err != nil {
		return err
	}
	a.log.WithField("user", unsubscribeUser).WithField("url", unsubscribeURL).Info("source removed")
	return nil
}

func filterAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.db.SetFilter(context.Background(), filterUser, store.FilterTerms{
		Include: filterInclude,
		Exclude: filterExclude,
	})
	if err != nil {
		return err
	}
	a.log.WithField("user", filterUser).Info("filter updated")
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(spec string) ([]time.Weekday, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(spec, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q (want mon..sun)", part)
		}
		days = append(days, day)
	}
	return days, nil
}

func scheduleAction(_ *cobra.Command, _ []string) error {
	if _, _, err := schedule.ParseTimeOfDay(scheduleTime); err != nil {
		return err
	}
	days, err := parseWeekdays(scheduleDays)
	if err != nil {
		return err
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.db.SetDigestSchedule(context.Background(), scheduleUser, schedule.DigestSchedule{
		TimeOfDay: scheduleTime,
		Weekdays:  days,
		Enabled:   !scheduleDisable,
	})
	if err != nil {
		return err
	}
	a.log.WithField("user", scheduleUser).WithField("time", scheduleTime).Info("digest schedule set")
	return nil
}
