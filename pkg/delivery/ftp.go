package delivery

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPConfig configures an FTP destination.
type FTPConfig struct {
	// Host is "host" or "host:port"; port 21 is assumed when omitted.
	Host     string
	User     string
	Password string
	Timeout  time.Duration
}

// ftpConn is the subset of *ftp.ServerConn used for uploads.
type ftpConn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// dialFTP opens a control connection; overridden in tests.
var dialFTP = func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	return ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
}

// FTPChannel uploads artifacts over FTP in binary mode, one session per file.
type FTPChannel struct {
	config FTPConfig
}

// NewFTPChannel creates an FTP channel.
func NewFTPChannel(cfg FTPConfig) (*FTPChannel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ftp host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &FTPChannel{config: cfg}, nil
}

// Address returns the host:port the channel dials.
func (c *FTPChannel) Address() string {
	if _, _, err := net.SplitHostPort(c.config.Host); err == nil {
		return c.config.Host
	}
	return net.JoinHostPort(c.config.Host, "21")
}

// Deliver implements Channel.
func (c *FTPChannel) Deliver(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	conn, err := dialFTP(ctx, c.Address(), c.config.Timeout)
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", c.Address(), err)
	}
	defer conn.Quit()

	if err := conn.Login(c.config.User, c.config.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if err := conn.Stor(remotePath, f); err != nil {
		return fmt.Errorf("ftp stor %s: %w", remotePath, err)
	}
	return nil
}
