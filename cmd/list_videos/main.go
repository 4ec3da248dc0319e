// list_videos 打印嵌入式数据库文件里最近的视频记录，排查上传问题用
//
//	go run ./cmd/list_videos [database/appchat.sqlite]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"appchat_store/internal/config"
	"appchat_store/internal/dao/normalize"
	"appchat_store/internal/dao/sqlstore"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const recentLimit = 200

// errNoTable 文件里还没有 videos 表
var errNoTable = errors.New("no videos table")

func main() {
	path := config.GetConfig().StoreConfig.SQLitePath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "SQLite DB not found at", path)
		os.Exit(2)
	}
	n, err := listVideos(context.Background(), path, os.Stdout, recentLimit)
	if errors.Is(err, errNoTable) || (err == nil && n == 0) {
		fmt.Println("No videos table or no rows found")
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to read SQLite DB:", err)
		os.Exit(1)
	}
}

// listVideos 只读打开 path，按创建时间倒序打印最多 limit 条视频
func listVideos(ctx context.Context, path string, w io.Writer, limit int) (int, error) {
	db, err := gorm.Open(sqlite.Open("file:"+path+"?mode=ro"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return 0, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	if !db.Migrator().HasTable(sqlstore.TableVideos) {
		return 0, errNoTable
	}
	var rows []map[string]any
	err = db.WithContext(ctx).Table(sqlstore.TableVideos).
		Select("id", "userId", "url", "title", "description", "thumbnailUrl", "duration", "views", "likes", "createdAt").
		Order("createdAt DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	fmt.Fprintln(w, "Found", len(rows), "video(s)")
	for _, r := range rows {
		v := normalize.Video(r)
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w, "id:", v.ID)
		fmt.Fprintln(w, "userId:", v.UserID)
		fmt.Fprintln(w, "url:", v.URL)
		fmt.Fprintln(w, "thumbnailUrl:", v.ThumbnailURL)
		fmt.Fprintln(w, "title:", v.Title)
		fmt.Fprintln(w, "duration:", v.Duration)
		fmt.Fprintln(w, "views:", v.Views, "likes:", v.Likes)
		fmt.Fprintln(w, "createdAt:", normalize.FormatTime(v.CreatedAt))
	}
	return len(rows), nil
}
