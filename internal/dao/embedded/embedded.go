// Package embedded 嵌入式存储后端
// 工作集是进程内的 SQLite 内存库，启动时从持久文件恢复，写操作由 coalescer 批量导出回文件
package embedded

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"appchat_store/internal/dao/coalescer"
	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/dao/sqlstore"
	"appchat_store/internal/feed"
	"appchat_store/internal/model"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Mirror 快照落盘后的远端镜像
type Mirror interface {
	Upload(ctx context.Context, localPath string) error
}

// Options 嵌入式后端参数
type Options struct {
	// Path 持久文件，为空时只在内存中运行（测试用）
	Path string
	// FlushInterval 批量落盘周期
	FlushInterval time.Duration
	// Mirror 可选
	Mirror Mirror
}

// Store 嵌入式后端
type Store struct {
	*sqlstore.Store

	db        *gorm.DB
	path      string
	guard     *writeGuard
	coalescer *coalescer.Coalescer
	mirror    Mirror
	closeOnce sync.Once
	closeErr  error
}

// writeGuard 写操作串行执行，读操作可以并发；写成功后通知 coalescer
type writeGuard struct {
	mu      sync.RWMutex
	onWrite func()
}

func (g *writeGuard) Read(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}

func (g *writeGuard) Write(fn func() error) error {
	g.mu.Lock()
	err := fn()
	g.mu.Unlock()
	if err == nil && g.onWrite != nil {
		g.onWrite()
	}
	return err
}

// Open 打开内存库、从持久文件恢复、建表并启动后台落盘
func Open(ctx context.Context, opts Options) (*Store, error) {
	// 每个实例使用独立的共享缓存名，同一进程里多个实例互不干扰
	dsn := fmt.Sprintf("file:appchat-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 内存库随最后一个连接关闭而消失，必须始终保留这一个连接
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if opts.Path != "" {
		if _, statErr := os.Stat(opts.Path); statErr == nil {
			if err := restore(ctx, sqlDB, opts.Path); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("restore %s: %w", opts.Path, err)
			}
			zap.L().Info("已从持久文件恢复嵌入式数据库", zap.String("path", opts.Path))
		} else if !errors.Is(statErr, os.ErrNotExist) {
			sqlDB.Close()
			return nil, statErr
		}
	}

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA temp_store = MEMORY"} {
		if err := db.WithContext(ctx).Exec(pragma).Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	st := &Store{
		db:     db,
		path:   opts.Path,
		guard:  &writeGuard{},
		mirror: opts.Mirror,
	}
	st.Store = sqlstore.New(db, sqlstore.SQLite, st.guard, rankApproximate)
	if err := st.Store.Bootstrap(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	st.coalescer = coalescer.New(coalescer.ExportFunc(st.export), opts.FlushInterval)
	st.guard.onWrite = st.coalescer.Enqueue
	st.coalescer.Start()
	return st, nil
}

// restore 用 SQLite 在线备份接口把持久文件整体拷进内存库
func restore(ctx context.Context, dst *sql.DB, path string) error {
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer src.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return err
	}
	defer srcConn.Close()
	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return err
	}
	defer dstConn.Close()

	return dstConn.Raw(func(dc any) error {
		return srcConn.Raw(func(sc any) error {
			to, ok := dc.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected driver connection %T", dc)
			}
			from, ok := sc.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected driver connection %T", sc)
			}
			bk, err := to.Backup("main", from, "main")
			if err != nil {
				return err
			}
			if _, err := bk.Step(-1); err != nil {
				bk.Finish()
				return err
			}
			return bk.Finish()
		})
	})
}

// export 导出整个内存库：VACUUM INTO 临时文件后原子替换持久文件
// 导出期间持有读锁，快照是某一时刻的一致状态；写操作会等到导出结束，
// 等待时间随库的大小增长，这是嵌入式后端写延迟的上限来源
func (s *Store) export(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(s.path)+"."+uuid.NewString()+".tmp")
	err := s.guard.Read(func() error {
		return s.db.WithContext(ctx).Exec("VACUUM INTO ?", tmp).Error
	})
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vacuum into %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, s.path); err != nil {
			zap.L().Warn("快照镜像上传失败", zap.String("path", s.path), zap.Error(err))
		}
	}
	return nil
}

// rankApproximate 嵌入式库不做服务端打分：按播放量、发布时间排序，分数只用于展示
func rankApproximate(ctx context.Context, s *sqlstore.Store, p feed.Params, now time.Time) ([]model.FeedItem, error) {
	query := s.FeedBaseSQL("") + " ORDER BY v.views DESC, v.createdAt DESC, v.id ASC LIMIT ?"
	rows := make([]map[string]any, 0)
	if err := s.DB().WithContext(ctx).Raw(query, model.VisibilityPublic, p.Limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]model.FeedItem, 0, len(rows))
	for _, r := range rows {
		item := normalize.FeedItem(r)
		item.Score = feed.Score(item.Views, feed.AgeDays(item.CreatedAt, now), p)
		item.Approximate = true
		items = append(items, item)
	}
	return items, nil
}

// Flush 立即落盘
func (s *Store) Flush(ctx context.Context) (bool, error) {
	return s.coalescer.FlushNow(ctx)
}

// PendingWrites 尚未落盘的写操作数
func (s *Store) PendingWrites() int {
	return s.coalescer.PendingCount()
}

// Path 持久文件路径
func (s *Store) Path() string { return s.path }

// Close 停止后台落盘并做最后一次同步落盘，然后关闭内存库
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		flushErr := s.coalescer.Stop(ctx)
		if flushErr != nil {
			zap.L().Error("关闭前落盘失败", zap.Error(flushErr))
		}
		closeErr := s.Store.Close(ctx)
		s.closeErr = errors.Join(flushErr, closeErr)
	})
	return s.closeErr
}
