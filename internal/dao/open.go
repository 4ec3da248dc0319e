package dao

import (
	"context"
	"fmt"
	"time"

	"appchat_store/internal/config"
	"appchat_store/internal/dao/embedded"
	"appchat_store/internal/dao/network"
	"appchat_store/internal/infrastructure/storage"
	"appchat_store/pkg/errorx"

	"go.uber.org/zap"
)

// Open 按配置选出唯一的存储后端
// 选中的后端初始化失败时返回 BackendUnavailable，没有兜底后端
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	sc := cfg.StoreConfig
	switch sc.Backend {
	case config.BackendSQLite:
		opts := embedded.Options{
			Path:          sc.SQLitePath,
			FlushInterval: time.Duration(sc.FlushIntervalMs) * time.Millisecond,
		}
		if cfg.SnapshotConfig.Enabled {
			mirror, err := storage.NewS3Mirror(ctx, &cfg.SnapshotConfig)
			if err != nil {
				// 镜像只是附加能力，失败不影响本地落盘
				zap.L().Warn("快照镜像初始化失败，仅保留本地文件", zap.Error(err))
			} else {
				opts.Mirror = mirror
			}
		}
		st, err := embedded.Open(ctx, opts)
		if err != nil {
			return nil, errorx.Wrap(err, errorx.CodeBackendUnavailable, "embedded backend unavailable")
		}
		zap.L().Info("存储后端已就绪", zap.String("backend", st.Backend()), zap.String("path", sc.SQLitePath))
		return st, nil

	case config.BackendPostgres, config.BackendMySQL:
		st, err := network.Open(ctx, network.Options{
			Dialect:         sc.Backend,
			DSN:             sc.DSN,
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(sc.ConnMaxLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, errorx.Wrap(err, errorx.CodeBackendUnavailable, "networked backend unavailable")
		}
		// 旧 JSON 数据导入失败只记录日志，不影响已经可用的后端
		network.ImportLegacy(ctx, st, network.LegacyOptions{
			DataDir:  sc.LegacyDataDir,
			FlagPath: sc.MigrationFlagPath,
		})
		zap.L().Info("存储后端已就绪", zap.String("backend", st.Backend()))
		return st, nil
	}
	return nil, errorx.New(errorx.CodeBackendUnavailable, fmt.Sprintf("unknown backend %q", sc.Backend))
}
