package sql

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCreateDBConnector(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectionConfig
		want    string
		wantErr bool
	}{
		{name: "sqlite", cfg: ConnectionConfig{DBType: "sqlite", DBPath: ":memory:"}, want: "*sql.SQLiteConnector"},
		{name: "cloudsql", cfg: ConnectionConfig{DBType: "cloudsql"}, want: "*sql.CloudSQLConnector"},
		{name: "postgres default", cfg: ConnectionConfig{DBType: "postgres"}, want: "*sql.PostgresConnector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector := CreateDBConnector(tt.cfg)
			if got := fmt.Sprintf("%T", connector); got != tt.want {
				t.Errorf("CreateDBConnector() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSQLiteConnectorConnect(t *testing.T) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	connector := CreateDBConnector(ConnectionConfig{DBType: "sqlite", DBPath: dsn})
	db, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if db == nil {
		t.Fatal("Connect() returned nil db")
	}
}
