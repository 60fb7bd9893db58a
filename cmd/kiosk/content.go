package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lannapoly/tiewson-kiosk/internal/cli"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

// content subcommand flags
var (
	listLocaleFlag string

	addTitles       = map[locale.Locale]*string{}
	addDescriptions = map[locale.Locale]*string{}
	addMediaType    string
	addMediaURL     string
	addFile         string
	addGender       string
	addMinAge       int
	addMaxAge       int

	deleteYesFlag bool
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage the news items shown on the kiosk",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items, newest first",
	Args:  cobra.NoArgs,
	RunE:  runContentList,
}

var contentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an item from a media link or a local file",
	Long: `Add stores a new item. Give either --media-url (Google Drive share links
are rewritten into their embeddable form) or --file, which is uploaded to
the media bucket.

Examples:
  kiosk content add --title-th "ข่าวประชาสัมพันธ์" --media-type image \
    --media-url "https://drive.google.com/file/d/1AbC/view"
  kiosk content add --title-en "Open day" --file ./openday.mp4 --gender female --min-age 15`,
	Args: cobra.NoArgs,
	RunE: runContentAdd,
}

var contentDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentDelete,
}

func init() {
	contentListCmd.Flags().StringVar(&listLocaleFlag, "locale", "", "Locale used to resolve titles (th, en, zh, ko)")

	for _, l := range locale.Supported {
		addTitles[l] = contentAddCmd.Flags().String("title-"+string(l), "", "Title in "+string(l))
		addDescriptions[l] = contentAddCmd.Flags().String("description-"+string(l), "", "Description in "+string(l))
	}
	contentAddCmd.Flags().StringVar(&addMediaType, "media-type", "", "image or video (derived from --file when empty)")
	contentAddCmd.Flags().StringVar(&addMediaURL, "media-url", "", "Media link")
	contentAddCmd.Flags().StringVar(&addFile, "file", "", "Local media file to upload")
	contentAddCmd.Flags().StringVar(&addGender, "gender", "all", "Target audience: all, male or female")
	contentAddCmd.Flags().IntVar(&addMinAge, "min-age", -1, "Minimum viewer age (unset when negative)")
	contentAddCmd.Flags().IntVar(&addMaxAge, "max-age", -1, "Maximum viewer age (unset when negative)")

	contentDeleteCmd.Flags().BoolVarP(&deleteYesFlag, "yes", "y", false, "Do not ask for confirmation")

	contentCmd.AddCommand(contentListCmd, contentAddCmd, contentDeleteCmd)
}

func openContent(ctx context.Context) (*content.Service, error) {
	clients, err := awsClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return contentService(cfg, clients)
}

func runContentList(cmd *cobra.Command, args []string) error {
	l := cfg.Locale
	if listLocaleFlag != "" {
		parsed, ok := locale.Parse(listLocaleFlag)
		if !ok {
			return fmt.Errorf("unsupported locale %q", listLocaleFlag)
		}
		l = parsed
	}

	svc, err := openContent(cmd.Context())
	if err != nil {
		return err
	}
	items, err := svc.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	return cli.WriteItems(cmd.OutOrStdout(), items, l, time.Now())
}

func runContentAdd(cmd *cobra.Command, args []string) error {
	d := content.Draft{
		Title:        locale.Text{},
		Description:  locale.Text{},
		MediaType:    media.Kind(addMediaType),
		MediaURL:     addMediaURL,
		TargetGender: content.TargetGender(addGender),
	}
	for l, v := range addTitles {
		if *v != "" {
			d.Title[l] = *v
		}
	}
	for l, v := range addDescriptions {
		if *v != "" {
			d.Description[l] = *v
		}
	}
	if addMinAge >= 0 {
		d.TargetAgeMin = content.IntPtr(addMinAge)
	}
	if addMaxAge >= 0 {
		d.TargetAgeMax = content.IntPtr(addMaxAge)
	}

	var upload *content.Upload
	if addFile != "" {
		data, err := os.ReadFile(addFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", addFile, err)
		}
		upload = &content.Upload{Filename: filepath.Base(addFile), Data: data}
	}

	svc, err := openContent(cmd.Context())
	if err != nil {
		return err
	}
	id, items, err := svc.CreateWithUpload(cmd.Context(), d, upload)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%d items)\n", id, len(items))
	return nil
}

func runContentDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !deleteYesFlag && !cli.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete "+id+"?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}
	svc, err := openContent(cmd.Context())
	if err != nil {
		return err
	}
	items, err := svc.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d items left)\n", id, len(items))
	return nil
}
