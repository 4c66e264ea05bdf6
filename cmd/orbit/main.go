package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/orbit-social/orbit/internal/api"
	"github.com/orbit-social/orbit/internal/follow"
	"github.com/orbit-social/orbit/internal/profile"
	"github.com/orbit-social/orbit/internal/relationship"
	"github.com/orbit-social/orbit/internal/server"
	"github.com/orbit-social/orbit/internal/session"
	"github.com/orbit-social/orbit/internal/viewstate"
)

const (
	rootCommandUse              = "orbit"
	rootCommandShortDescription = "Profile and relationship client for the Orbit social API"
	envPrefix                   = "ORBIT"

	flagAPIBaseName           = "api-base"
	flagAPIBaseDescription    = "Base URL of the remote social API"
	flagSessionFileName       = "session-file"
	flagSessionFileDesc       = "Path of the persisted viewer session"
	flagVerboseName           = "verbose"
	flagVerboseDescription    = "Enable debug logging"
	flagForceName             = "force"
	flagForceDescription      = "Bypass the profile freshness window"
	flagHostName              = "host"
	flagHostDescription       = "Host interface for the local HTTP server"
	flagPortName              = "port"
	flagPortDescription       = "Port for the local HTTP server"
	flagDisplayNameName       = "name"
	flagDisplayNameDesc       = "New display name"
	flagBioName               = "bio"
	flagBioDescription        = "New biography text"
	flagWebsiteName           = "website"
	flagWebsiteDescription    = "New website URL"
	flagLocationName          = "location"
	flagLocationDescription   = "New location"
	flagBirthDateName         = "birth-date"
	flagBirthDateDescription  = "New birth date (YYYY-MM-DD)"
	flagGenderName            = "gender"
	flagGenderDescription     = "New gender"
	flagVisibilityName        = "visibility"
	flagVisibilityDescription = "New visibility (PUBLIC or PRIVATE)"
	flagIdentityName          = "identity"
	flagIdentityDescription   = "Viewer's server-assigned identity"
	flagHandleName            = "handle"
	flagHandleDescription     = "Viewer's handle"
	flagAccessTokenName       = "access-token"
	flagAccessTokenDesc       = "Bearer access token"
	flagRefreshTokenName      = "refresh-token"
	flagRefreshTokenDesc      = "Refresh token"

	defaultHost            = "127.0.0.1"
	defaultPort            = 8490
	defaultSessionFileName = "session.json"
	configDirectoryName    = "orbit"

	errMessageLoggerCreate      = "create logger"
	errMessageClientCreate      = "create api client"
	errMessageRouterCreate      = "create router"
	errMessageListenAndServe    = "listen and serve"
	errMessageBadIdentityArg    = "identity must be a positive integer"
	errMessageUnknownHandle     = "handle resolved to no identity"
	errMessageNoEditFields      = "no edit fields provided"
	errMessageUnknownIdentity   = "session carries no identity; set the session first"
	errMessageSessionIncomplete = "identity and handle are required"

	logMessageStartingServer     = "starting local view server"
	logMessageServerStopped      = "server stopped"
	logMessageSessionInvalidated = "session invalidated; sign in again"
	logFieldAddress              = "address"
)

func main() {
	cobra.CheckErr(newRootCommand().Execute())
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   rootCommandUse,
		Short: rootCommandShortDescription,
	}

	command.PersistentFlags().String(flagAPIBaseName, "", flagAPIBaseDescription)
	command.PersistentFlags().String(flagSessionFileName, defaultSessionFilePath(), flagSessionFileDesc)
	command.PersistentFlags().Bool(flagVerboseName, false, flagVerboseDescription)

	bindFlagToViper(command, flagAPIBaseName)
	bindFlagToViper(command, flagSessionFileName)
	bindFlagToViper(command, flagVerboseName)

	cobra.OnInitialize(configureEnvironment)

	command.AddCommand(
		newViewCommand(),
		newFollowCommand(),
		newUnfollowCommand(),
		newRequestsCommand(),
		newEditCommand(),
		newAvatarCommand(),
		newCoverCommand(),
		newSessionCommand(),
		newServeCommand(),
	)
	return command
}

func newSessionCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "session",
		Short: "Manage the persisted viewer session",
	}

	setCommand := &cobra.Command{
		Use:   "set",
		Short: "Store the viewer identity, handle and API tokens",
		RunE: func(command *cobra.Command, _ []string) error {
			identity, _ := command.Flags().GetInt64(flagIdentityName)
			handle, _ := command.Flags().GetString(flagHandleName)
			accessToken, _ := command.Flags().GetString(flagAccessTokenName)
			refreshToken, _ := command.Flags().GetString(flagRefreshTokenName)
			if identity <= 0 || handle == "" {
				return errors.New(errMessageSessionIncomplete)
			}
			store := session.NewFileStore(viper.GetString(flagSessionFileName))
			return store.Save(session.Session{
				Identity:     profile.Identity(identity),
				Handle:       handle,
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			})
		},
	}
	setCommand.Flags().Int64(flagIdentityName, 0, flagIdentityDescription)
	setCommand.Flags().String(flagHandleName, "", flagHandleDescription)
	setCommand.Flags().String(flagAccessTokenName, "", flagAccessTokenDesc)
	setCommand.Flags().String(flagRefreshTokenName, "", flagRefreshTokenDesc)

	clearCommand := &cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted viewer session",
		RunE: func(*cobra.Command, []string) error {
			return session.NewFileStore(viper.GetString(flagSessionFileName)).Clear()
		},
	}

	command.AddCommand(setCommand, clearCommand)
	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.PersistentFlags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func defaultSessionFilePath() string {
	configDirectory, err := os.UserConfigDir()
	if err != nil {
		return defaultSessionFileName
	}
	return filepath.Join(configDirectory, configDirectoryName, defaultSessionFileName)
}

// application bundles the wired component stack for one command run.
type application struct {
	logger   *zap.Logger
	sessions session.Store
	bus      *session.Bus
	client   *api.Client
	manager  *viewstate.Manager
	pipeline *follow.Pipeline
}

func buildApplication() (*application, error) {
	logger, loggerErr := newLogger()
	if loggerErr != nil {
		return nil, fmt.Errorf("%s: %w", errMessageLoggerCreate, loggerErr)
	}

	sessions := session.NewFileStore(viper.GetString(flagSessionFileName))
	bus := session.NewBus()

	client, clientErr := api.NewClient(api.Config{
		BaseURL:  viper.GetString(flagAPIBaseName),
		Sessions: sessions,
		Bus:      bus,
		Logger:   logger,
	})
	if clientErr != nil {
		return nil, fmt.Errorf("%s: %w", errMessageClientCreate, clientErr)
	}

	cache := profile.NewCache(profile.CacheConfig{Fetcher: client})
	resolver := relationship.NewResolver(client, logger)
	manager := viewstate.NewManager(viewstate.Config{
		Cache:    cache,
		Resolver: resolver,
		Stats:    client,
		Sessions: sessions,
		Logger:   logger,
	})
	pipeline := follow.NewPipeline(follow.Config{
		API:    client,
		State:  manager,
		Logger: logger,
	})

	built := &application{
		logger:   logger,
		sessions: sessions,
		bus:      bus,
		client:   client,
		manager:  manager,
		pipeline: pipeline,
	}
	go built.watchInvalidation()
	return built, nil
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool(flagVerboseName) {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (app *application) watchInvalidation() {
	<-app.bus.Subscribe()
	app.logger.Warn(logMessageSessionInvalidated)
}

func (app *application) close() {
	_ = app.logger.Sync()
}

func newViewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "view <handle>",
		Short: "Resolve and print the profile view for a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			force, _ := command.Flags().GetBool(flagForceName)
			app, buildErr := buildApplication()
			if buildErr != nil {
				return buildErr
			}
			defer app.close()

			view := app.manager.View(context.Background(), arguments[0], force)
			return printJSON(command, view)
		},
	}
	command.Flags().Bool(flagForceName, false, flagForceDescription)
	return command
}

func newFollowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <handle>",
		Short: "Follow the profile behind a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return runFollowAction(arguments[0], func(app *application, target profile.Identity) error {
				return app.pipeline.Follow(context.Background(), target)
			})
		},
	}
}

func newUnfollowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <handle>",
		Short: "Unfollow the profile behind a handle or cancel a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return runFollowAction(arguments[0], func(app *application, target profile.Identity) error {
				return app.pipeline.Unfollow(context.Background(), target)
			})
		},
	}
}

// runFollowAction resolves the handle through the view manager first; all
// relationship operations key on the stable identity, never the handle.
func runFollowAction(handle string, perform func(*application, profile.Identity) error) error {
	app, buildErr := buildApplication()
	if buildErr != nil {
		return buildErr
	}
	defer app.close()

	view := app.manager.View(context.Background(), handle, false)
	target := view.FollowTarget()
	if target.Zero() {
		return fmt.Errorf("%s: %q", errMessageUnknownHandle, handle)
	}
	return perform(app, target)
}

func newRequestsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "requests",
		Short: "Manage inbound follow requests",
	}
	command.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending follow requests",
			RunE: func(command *cobra.Command, _ []string) error {
				app, buildErr := buildApplication()
				if buildErr != nil {
					return buildErr
				}
				defer app.close()

				if refreshErr := app.pipeline.RefreshRequests(context.Background()); refreshErr != nil {
					return refreshErr
				}
				return printJSON(command, app.pipeline.Requests())
			},
		},
		&cobra.Command{
			Use:   "accept <identity>",
			Short: "Accept a pending follow request",
			Args:  cobra.ExactArgs(1),
			RunE: func(command *cobra.Command, arguments []string) error {
				return runMutation(arguments[0], func(app *application, requester profile.Identity) error {
					return app.pipeline.AcceptRequest(context.Background(), requester)
				})
			},
		},
		&cobra.Command{
			Use:   "reject <identity>",
			Short: "Reject a pending follow request",
			Args:  cobra.ExactArgs(1),
			RunE: func(command *cobra.Command, arguments []string) error {
				return runMutation(arguments[0], func(app *application, requester profile.Identity) error {
					return app.pipeline.RejectRequest(context.Background(), requester)
				})
			},
		},
	)
	return command
}

func newEditCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "edit",
		Short: "Edit the viewer's own profile",
		RunE:  runEditCommand,
	}
	command.Flags().String(flagDisplayNameName, "", flagDisplayNameDesc)
	command.Flags().String(flagBioName, "", flagBioDescription)
	command.Flags().String(flagWebsiteName, "", flagWebsiteDescription)
	command.Flags().String(flagLocationName, "", flagLocationDescription)
	command.Flags().String(flagBirthDateName, "", flagBirthDateDescription)
	command.Flags().String(flagGenderName, "", flagGenderDescription)
	command.Flags().String(flagVisibilityName, "", flagVisibilityDescription)
	return command
}

func runEditCommand(command *cobra.Command, _ []string) error {
	edit := profile.Edit{}
	assignIfSet(command, flagDisplayNameName, &edit.DisplayName)
	assignIfSet(command, flagBioName, &edit.Bio)
	assignIfSet(command, flagWebsiteName, &edit.Website)
	assignIfSet(command, flagLocationName, &edit.Location)
	assignIfSet(command, flagBirthDateName, &edit.BirthDate)
	assignIfSet(command, flagGenderName, &edit.Gender)
	if command.Flags().Changed(flagVisibilityName) {
		rawVisibility, _ := command.Flags().GetString(flagVisibilityName)
		visibility := profile.ParseVisibility(rawVisibility)
		edit.Visibility = &visibility
	}
	if edit == (profile.Edit{}) {
		return errors.New(errMessageNoEditFields)
	}

	app, buildErr := buildApplication()
	if buildErr != nil {
		return buildErr
	}
	defer app.close()

	viewerSession, loadErr := app.sessions.Load()
	if loadErr != nil {
		return loadErr
	}
	if viewerSession.Identity.Zero() || viewerSession.Handle == "" {
		return errors.New(errMessageUnknownIdentity)
	}

	// Load the viewer's own profile so the edit has state to merge into.
	app.manager.View(context.Background(), viewerSession.Handle, false)
	if applyErr := app.pipeline.UpdateProfile(viewerSession.Identity, edit); applyErr != nil {
		return applyErr
	}
	return app.pipeline.UpdateProfileServer(context.Background(), viewerSession.Identity, edit)
}

func newAvatarCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar <file>",
		Short: "Upload a new avatar image for the viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return runImageUpload(command, arguments[0], func(app *application, ctx context.Context, fileName string, content *os.File) (string, error) {
				return app.client.UploadAvatar(ctx, fileName, content)
			})
		},
	}
}

func newCoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cover <file>",
		Short: "Upload a new cover image for the viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return runImageUpload(command, arguments[0], func(app *application, ctx context.Context, fileName string, content *os.File) (string, error) {
				return app.client.UploadCover(ctx, fileName, content)
			})
		},
	}
}

func runImageUpload(command *cobra.Command, path string, upload func(*application, context.Context, string, *os.File) (string, error)) error {
	imageFile, openErr := os.Open(path)
	if openErr != nil {
		return openErr
	}
	defer func() { _ = imageFile.Close() }()

	app, buildErr := buildApplication()
	if buildErr != nil {
		return buildErr
	}
	defer app.close()

	uploadedURL, uploadErr := upload(app, context.Background(), filepath.Base(path), imageFile)
	if uploadErr != nil {
		return uploadErr
	}
	command.Println(uploadedURL)
	return nil
}

func assignIfSet(command *cobra.Command, flagName string, target **string) {
	if !command.Flags().Changed(flagName) {
		return
	}
	value, _ := command.Flags().GetString(flagName)
	*target = &value
}

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the profile view model over local HTTP",
		RunE:  runServeCommand,
	}
	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	return command
}

func runServeCommand(command *cobra.Command, _ []string) error {
	app, buildErr := buildApplication()
	if buildErr != nil {
		return buildErr
	}
	defer app.close()

	router, routerErr := server.NewRouter(server.RouterConfig{
		Manager:  app.manager,
		Pipeline: app.pipeline,
		Logger:   app.logger,
	})
	if routerErr != nil {
		return fmt.Errorf("%s: %w", errMessageRouterCreate, routerErr)
	}

	host, _ := command.Flags().GetString(flagHostName)
	port, _ := command.Flags().GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	app.logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", errMessageListenAndServe, serveErr)
	}
	app.logger.Info(logMessageServerStopped)
	return nil
}

func runMutation(rawIdentity string, perform func(*application, profile.Identity) error) error {
	parsed, parseErr := strconv.ParseInt(rawIdentity, 10, 64)
	if parseErr != nil || parsed <= 0 {
		return errors.New(errMessageBadIdentityArg)
	}

	app, buildErr := buildApplication()
	if buildErr != nil {
		return buildErr
	}
	defer app.close()
	return perform(app, profile.Identity(parsed))
}

func printJSON(command *cobra.Command, value interface{}) error {
	encoded, marshalErr := json.MarshalIndent(value, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	command.Println(string(encoded))
	return nil
}
