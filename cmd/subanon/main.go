// Command subanon transfers student submissions between assignments under pseudonyms.
package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/subanon/internal/adapters/driven/config/file"
	"github.com/custodia-labs/subanon/internal/adapters/driven/storage/localdir"
	"github.com/custodia-labs/subanon/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/subanon/internal/adapters/driving/cli"
	"github.com/custodia-labs/subanon/internal/connectors/gradescope"
	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/services"
	"github.com/custodia-labs/subanon/internal/sanitisers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	os.Exit(run())
}

func run() int {
	configStore, err := file.NewConfigStore("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open config: %v\n", err)
		return cli.ExitError
	}
	settingsService := services.NewSettingsService(configStore)

	// Invalid platform settings fall back to the default so "settings set" still runs.
	platformSettings := settingsService.GetDefaults().Platform
	if settings, err := settingsService.Get(); err == nil {
		platformSettings = settings.Platform
	}
	platform, err := gradescope.New(gradescope.ConfigFromSettings(platformSettings))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using %s\n", err, domain.DefaultPlatformBaseURL)
		platform, _ = gradescope.New(gradescope.Config{})
	}

	store, err := sqlite.NewStore("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open ledger: %v\n", err)
		return cli.ExitError
	}
	defer store.Close()

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Transfer: services.NewTransferOrchestrator(
			platform,
			sanitisers.NewDefaultRegistry(),
			store,
			settingsService,
			localdir.Opener{},
		),
		Batch:    services.NewBatchService(store),
		Roster:   services.NewRosterService(store),
		Settings: settingsService,
	})

	err = cli.Execute()
	if err != nil && !cli.Silent(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return cli.ExitCode(err)
}
