package app

import (
	"fmt"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
)

// Context bundles everything a command or server needs: the open database,
// the loaded config and the engine built on both.
type Context struct {
	Workspace string
	Engine    engine.Engine
}

// Open prepares the workspace: open the database, apply migrations, load
// phaseline.yml (or defaults) and build the engine. Callers must Close.
func Open(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{
		Workspace: workspace,
		Engine:    engine.New(conn, cfg),
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.Engine.DB == nil {
		return nil
	}
	return c.Engine.DB.Close()
}
