package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/identityheader"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/replication"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/resolver"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/verification"
)

type Config struct {
	DatabaseConfig     config.DatabaseConfig
	StoreConfig        config.StoreConfig
	ResolverConfig     config.ResolverConfig
	HeaderConfig       config.IdentityHeaderConfig
	VerificationConfig config.VerificationConfig
	SyncConfig         config.SyncConfig
}

// main walks one device through its lifecycle: registration, claim,
// cross-browser recognition, out-of-band verification and replication to a
// second device of the same owner.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	ctx := context.Background()

	repoConfig := devicestore.RepositoryConfig{DataDir: cfg.StoreConfig.DataDir}
	if cfg.StoreConfig.PersistenceType == "postgres" || cfg.StoreConfig.PersistenceType == "postgresql" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseConfig.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", cfg.DatabaseConfig.Database,
				"host", cfg.DatabaseConfig.Host, "err", err)
			os.Exit(-1)
		}
		defer pool.Close()
		repoConfig.DB = pool
	}

	repo, err := devicestore.NewStoreRepository(ctx, cfg.StoreConfig.PersistenceType, repoConfig)
	if err != nil {
		slog.Error("Failed creating store repository", "type", cfg.StoreConfig.PersistenceType, "err", err)
		os.Exit(-1)
	}

	store := devicestore.NewStoreService(repo)
	codec := identityheader.NewCodec(cfg.HeaderConfig.Secret, "devauth-demo", cfg.HeaderConfig.TTL)
	owners := &resolver.StaticOwnerDirectory{Owners: map[string]resolver.OwnerInfo{
		"alice": {Handle: "alice", GUID: "11111111-1111-4111-8111-111111111111", Phone: "+15551230001", HasPin: true},
	}}
	deviceResolver := resolver.NewResolver(store, codec, owners, cfg.ResolverConfig)
	replicator := replication.NewService(store, cfg.SyncConfig)

	sender := &verification.MockSender{}
	codes := verification.NewService(sender, cfg.VerificationConfig)

	// a brand new browser shows up with nothing
	decision, err := deviceResolver.Resolve(ctx, resolver.Hints{})
	fatalOn(err)
	slog.Info("first contact", "status", decision.Status)

	// register and claim the laptop
	laptopID := newDeviceID()
	if _, err := store.CreateDevice(ctx, laptopID); err != nil {
		fatalOn(err)
	}

	alice := devicestore.OwnerIdentity{
		Handle: "alice",
		GUID:   "11111111-1111-4111-8111-111111111111",
		Phone:  "+15551230001",
	}

	// out-of-band verification guards the claim
	fatalOn(codes.SendCode(ctx, alice.Phone))
	delivered := sender.Sent()
	fatalOn(codes.CheckCode(ctx, alice.Phone, delivered[len(delivered)-1].Code))
	slog.Info("phone verified", "phone", alice.Phone)

	if _, err := store.Claim(ctx, laptopID, alice); err != nil {
		fatalOn(err)
	}

	chrome := fingerprint.Snapshot{
		Platform:         "MacIntel",
		Timezone:         "Europe/London",
		ScreenWidth:      1512,
		ScreenHeight:     982,
		DevicePixelRatio: 2.0,
		CPUModel:         "Apple M1",
		BrowserFamily:    "chrome",
	}
	fatalOn(store.PutFingerprintSnapshot(ctx, laptopID, chrome))

	// the same laptop comes back through Safari carrying the identity header
	headerJWT, err := codec.Encode(identityheader.Header{DeviceID: laptopID, OwnerHandle: alice.Handle})
	fatalOn(err)

	safari := chrome
	safari.BrowserFamily = "safari"
	decision, err = deviceResolver.Resolve(ctx, resolver.Hints{
		IdentityHeader:     headerJWT,
		OpaqueBrowserToken: "safari-" + laptopID[:12],
		InboundSnapshot:    &safari,
		UserAgent:          "Mozilla/5.0 Version/17.0 Safari/605.1.15",
	})
	fatalOn(err)
	slog.Info("safari on the same laptop", "status", decision.Status,
		"score", decision.Score, "level", decision.Level, "pinAvailable", decision.PinAvailable)

	// alice claims her phone too; replication carries the identity group
	phoneID := newDeviceID()
	if _, err := store.CreateDevice(ctx, phoneID); err != nil {
		fatalOn(err)
	}
	if _, err := store.Claim(ctx, phoneID, alice); err != nil {
		fatalOn(err)
	}
	if _, err := store.AddCredential(ctx, laptopID, devicestore.CredentialRecord{
		CredentialID: "webauthn-demo-credential",
		PublicKey:    []byte{0x04, 0x7f},
		OwnerGUID:    alice.GUID,
	}); err != nil {
		fatalOn(err)
	}

	fatalOn(replicator.SyncAll(ctx))

	phoneSet, err := store.GetDevice(ctx, phoneID)
	fatalOn(err)
	slog.Info("after sync", "device", phoneID[:12], "credentials", len(phoneSet.Credentials),
		"owner", phoneSet.Record.Owner.Handle)
}

func newDeviceID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		slog.Error("Failed generating device id", "err", err)
		os.Exit(-1)
	}
	return hex.EncodeToString(b)
}

func fatalOn(err error) {
	if err != nil {
		slog.Error("demo step failed", "err", err)
		os.Exit(-1)
	}
}
