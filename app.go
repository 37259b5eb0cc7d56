package main

import (
	"context"
	"errors"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/middlewares"
	"bitbucket.org/mmdatafocus/aftersales_backend/models"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"bitbucket.org/mmdatafocus/aftersales_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// application holds what the handlers need. The service is installed once
// dependencies are connected; until then the readiness gate answers 503.
type application struct {
	logger *logrus.Logger
	svc    atomic.Pointer[aftersales.Service]
	names  atomic.Value // middlewares.NameSource

	// login is nil when there is no user table (memory storage).
	login func(ctx context.Context, username, password string) (*models.LoginInfo, error)

	closers []func() error
}

func newApplication(logger *logrus.Logger) *application {
	return &application{logger: logger}
}

func (app *application) install(svc *aftersales.Service, names middlewares.NameSource) {
	app.names.Store(names)
	app.svc.Store(svc)
}

func (app *application) onShutdown(fn func() error) {
	app.closers = append(app.closers, fn)
}

func (app *application) close() {
	if svc := app.service(); svc != nil {
		svc.WaitForSideEffects()
	}
	for _, fn := range app.closers {
		if err := fn(); err != nil {
			app.logger.WithField("field", "shutdown").Warn(err.Error())
		}
	}
}

func (app *application) service() *aftersales.Service {
	return app.svc.Load()
}

func (app *application) ready() bool {
	return app.svc.Load() != nil
}

// lazyNames resolves names lazily so the loader middleware can be installed before the service.
type lazyNames struct {
	app *application
}

func (l lazyNames) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	return l.app.names.Load().(middlewares.NameSource).UserNames(ctx, ids)
}

func (l lazyNames) StoreNames(ctx context.Context, ids []string) (map[string]string, error) {
	return l.app.names.Load().(middlewares.NameSource).StoreNames(ctx, ids)
}

// mysqlNames combines the user directory and the store lookup.
type mysqlNames struct {
	users  *models.UserDirectory
	lookup *models.ProvenanceLookup
}

func (n mysqlNames) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	return n.users.UserNames(ctx, ids)
}

func (n mysqlNames) StoreNames(ctx context.Context, ids []string) (map[string]string, error) {
	return n.lookup.StoreNames(ctx, ids)
}

// buildMySQLService wires the gorm repositories, GCS and Pub/Sub.
func (app *application) buildMySQLService(ctx context.Context, db *gorm.DB) (*aftersales.Service, middlewares.NameSource, error) {
	logger := app.logger
	policy, err := config.LoadSLAPolicy()
	if err != nil {
		return nil, nil, err
	}
	blobs, err := models.NewGCSBlobStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	app.onShutdown(blobs.Close)

	lookup := models.NewProvenanceLookup(db)
	users := models.NewUserDirectory(db)
	svc := aftersales.NewService(aftersales.Deps{
		Cases:       models.NewCaseRepository(db),
		Attachments: models.NewAttachmentRepository(db),
		Lookup:      lookup,
		Users:       users,
		Numbers:     models.NewCaseNumberGenerator(db, logger),
		Blobs:       blobs,
		Notifier:    workflow.NewPubSubNotifier(logger),
		Audit:       models.NewHistoryRecorder(db),
		Thumbnailer: models.ImagingThumbnailer{},
		Logger:      logger,
	}, aftersales.WithSLAPolicy(policy), aftersales.WithPhoneRegion(config.PhoneRegion()))
	return svc, mysqlNames{users: users, lookup: lookup}, nil
}

// buildMemoryService runs the engine against the in-process store. Notifications go to the log.
func buildMemoryService(store *memstore.Store, logger *logrus.Logger) (*aftersales.Service, error) {
	policy, err := config.LoadSLAPolicy()
	if err != nil {
		return nil, err
	}
	deps := store.Deps()
	deps.Notifier = workflow.LogNotifier{Logger: logger}
	deps.Audit = &memstore.Audit{}
	deps.Thumbnailer = models.ImagingThumbnailer{}
	deps.Logger = logger
	return aftersales.NewService(deps, aftersales.WithSLAPolicy(policy), aftersales.WithPhoneRegion(config.PhoneRegion())), nil
}

// memoryLogin lets the seeded demo users sign in with one shared password.
// The username is the user id.
func memoryLogin(users aftersales.UserDirectory, password string) (func(ctx context.Context, username, password string) (*models.LoginInfo, error), error) {
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, username, password string) (*models.LoginInfo, error) {
		user, err := users.FindById(ctx, username)
		if err != nil {
			return nil, err
		}
		if user == nil || utils.ComparePassword(string(hashed), password) != nil {
			return nil, errors.New("invalid username or password")
		}
		if !user.IsActive {
			return nil, errors.New("user is disabled")
		}
		token, err := utils.JwtGenerate(user.ID, string(user.Role))
		if err != nil {
			return nil, err
		}
		return &models.LoginInfo{Token: token, Id: user.ID, Name: user.Name, Role: string(user.Role)}, nil
	}, nil
}
