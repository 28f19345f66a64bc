package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stocklot/backend/internal/config"
	"github.com/stocklot/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
	"gorm.io/gorm"
)

// ErrNoArtifact is returned when a named backup file does not exist.
var ErrNoArtifact = errors.New("backup artifact not found")

const (
	backupSuffix    = ".stocklot.bak"
	metaSuffix      = ".meta"
	encryptedHeader = "STOCKLOT_ENCRYPTED_BACKUP_V1\n"
	kdfSalt         = "stocklot-backup-kdf-v1"
)

// ArtifactInfo describes one backup artifact on disk.
type ArtifactInfo struct {
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
	TablesCount int       `json:"tables_count"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
	Description string    `json:"description"`
}

// ArtifactStore is the boundary to whatever produces and owns backup
// artifacts. The engine only ever creates, lists and deletes through it.
type ArtifactStore interface {
	Create(ctx context.Context, actor, description string) (string, error)
	List(ctx context.Context) ([]ArtifactInfo, error)
	Delete(ctx context.Context, filename string) error
}

// artifactMeta is the sidecar written next to each artifact so List can
// report creator and table count without re-opening the dump.
type artifactMeta struct {
	TablesCount int    `json:"tables_count"`
	CreatedBy   string `json:"created_by"`
	Description string `json:"description"`
}

// DumpStore implements ArtifactStore with pg_dump custom-format dumps,
// encrypted at rest with AES-256-GCM.
type DumpStore struct {
	cfg    *config.Config
	db     *gorm.DB
	dir    string
	logger *zap.Logger
}

func NewDumpStore(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *DumpStore {
	os.MkdirAll(cfg.BackupDir, 0755)
	return &DumpStore{
		cfg:    cfg,
		db:     db,
		dir:    cfg.BackupDir,
		logger: logger,
	}
}

// Create dumps the database, encrypts the dump and returns the artifact
// filename. The caller's identity and description land in the sidecar.
func (s *DumpStore) Create(ctx context.Context, actor, description string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	tempFile := filepath.Join(s.dir, fmt.Sprintf(".temp_%s.dump", timestamp))
	filename := fmt.Sprintf("stocklot_%s%s", timestamp, backupSuffix)
	finalPath := filepath.Join(s.dir, filename)

	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", s.cfg.DBHost,
		"-p", strconv.Itoa(s.cfg.DBPort),
		"-U", s.cfg.DBUser,
		"-d", s.cfg.DBName,
		"-Fc", // custom format (compressed, binary)
		"-f", tempFile,
		"--no-owner",
		"--no-acl",
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", s.cfg.DBPassword))

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("pg_dump failed: %s: %s", err.Error(), strings.TrimSpace(string(output)))
	}

	err = s.encryptFile(tempFile, finalPath)
	os.Remove(tempFile)
	if err != nil {
		os.Remove(finalPath)
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	meta := artifactMeta{
		TablesCount: s.countTables(ctx),
		CreatedBy:   actor,
		Description: description,
	}
	if err := s.writeMeta(filename, meta); err != nil {
		s.logger.Warn("failed to write artifact metadata sidecar",
			zap.String("filename", filename), zap.Error(err))
	}

	return filename, nil
}

// List returns all artifacts with their metadata, newest first.
func (s *DumpStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return []ArtifactInfo{}, nil
	}

	artifacts := []ArtifactInfo{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), backupSuffix) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}

		a := ArtifactInfo{
			Filename:  file.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		}
		if meta, err := s.readMeta(file.Name()); err == nil {
			a.TablesCount = meta.TablesCount
			a.CreatedBy = meta.CreatedBy
			a.Description = meta.Description
		}
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Delete removes an artifact and its sidecar.
func (s *DumpStore) Delete(ctx context.Context, filename string) error {
	filename = filepath.Base(filename)
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrNoArtifact
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	os.Remove(path + metaSuffix)
	return nil
}

// Restore decrypts an artifact and feeds it to pg_restore.
func (s *DumpStore) Restore(ctx context.Context, filename string) error {
	filename = filepath.Base(filename)
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrNoArtifact
	}

	tempFile := filepath.Join(s.dir, fmt.Sprintf(".restore_temp_%d.dump", time.Now().UnixNano()))
	if err := s.decryptFile(path, tempFile); err != nil {
		return fmt.Errorf("failed to decrypt backup: %w", err)
	}
	defer os.Remove(tempFile)

	cmd := exec.CommandContext(ctx, "pg_restore",
		"-h", s.cfg.DBHost,
		"-p", strconv.Itoa(s.cfg.DBPort),
		"-U", s.cfg.DBUser,
		"-d", s.cfg.DBName,
		"--clean",
		"--if-exists",
		"--no-owner",
		"--no-acl",
		"--single-transaction",
		tempFile,
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", s.cfg.DBPassword))

	output, err := cmd.CombinedOutput()
	if err != nil {
		// pg_restore exits non-zero on warnings; only connection-level
		// failures are treated as fatal
		if strings.Contains(string(output), "FATAL") || strings.Contains(string(output), "could not connect") {
			return fmt.Errorf("pg_restore failed: %s", strings.TrimSpace(string(output)))
		}
		s.logger.Warn("pg_restore finished with warnings",
			zap.String("filename", filename))
	}
	return nil
}

// Path returns the absolute path of an artifact, for download handlers.
func (s *DumpStore) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}

func (s *DumpStore) countTables(ctx context.Context) int {
	var count int
	err := s.db.WithContext(ctx).
		Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public'").
		Scan(&count).Error
	if err != nil {
		return 0
	}
	return count
}

func (s *DumpStore) writeMeta(filename string, meta artifactMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, filename+metaSuffix), data, 0600)
}

func (s *DumpStore) readMeta(filename string) (artifactMeta, error) {
	var meta artifactMeta
	data, err := os.ReadFile(filepath.Join(s.dir, filename+metaSuffix))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// deriveEncryptionKey derives the AES-256 key from the configured passphrase.
func (s *DumpStore) deriveEncryptionKey() []byte {
	return pbkdf2.Key([]byte(s.cfg.BackupPassphrase), []byte(kdfSalt), 4096, 32, sha256.New)
}

// encryptFile encrypts a file using AES-256-GCM.
func (s *DumpStore) encryptFile(inputPath, outputPath string) error {
	plaintext, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	block, err := aes.NewCipher(s.deriveEncryptionKey())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to create nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	output := append([]byte(encryptedHeader), ciphertext...)

	if err := os.WriteFile(outputPath, output, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted file: %w", err)
	}
	return nil
}

// decryptFile decrypts a file encrypted with encryptFile.
func (s *DumpStore) decryptFile(inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read encrypted file: %w", err)
	}

	header := []byte(encryptedHeader)
	if len(data) < len(header) || string(data[:len(header)]) != encryptedHeader {
		return fmt.Errorf("invalid encrypted backup format")
	}
	ciphertext := data[len(header):]

	block, err := aes.NewCipher(s.deriveEncryptionKey())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decryption failed: backup may be from a different installation")
	}

	if err := os.WriteFile(outputPath, plaintext, 0600); err != nil {
		return fmt.Errorf("failed to write decrypted file: %w", err)
	}
	return nil
}

// MirrorUpload copies an artifact to the schedule's FTP mirror.
func (s *DumpStore) MirrorUpload(schedule *models.BackupSchedule, filename string) error {
	filename = filepath.Base(filename)
	addr := fmt.Sprintf("%s:%d", schedule.FTPHost, schedule.FTPPort)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("FTP connection failed: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(schedule.FTPUsername, schedule.FTPPassword); err != nil {
		return fmt.Errorf("FTP login failed: %w", err)
	}

	if schedule.FTPPath != "" && schedule.FTPPath != "/" {
		if err := conn.ChangeDir(schedule.FTPPath); err != nil {
			conn.MakeDir(schedule.FTPPath)
			if err := conn.ChangeDir(schedule.FTPPath); err != nil {
				return fmt.Errorf("FTP directory change failed: %w", err)
			}
		}
	}

	file, err := os.Open(s.Path(filename))
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	if err := conn.Stor(filename, file); err != nil {
		return fmt.Errorf("FTP upload failed: %w", err)
	}

	s.logger.Info("uploaded artifact to FTP mirror",
		zap.String("filename", filename),
		zap.String("host", schedule.FTPHost))
	return nil
}

// MirrorPrune removes mirrored artifacts older than cutoff. Per-file
// failures are logged and skipped; the mirror is best effort.
func (s *DumpStore) MirrorPrune(schedule *models.BackupSchedule, cutoff time.Time) {
	addr := fmt.Sprintf("%s:%d", schedule.FTPHost, schedule.FTPPort)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		s.logger.Warn("FTP mirror prune skipped: connection failed", zap.Error(err))
		return
	}
	defer conn.Quit()

	if err := conn.Login(schedule.FTPUsername, schedule.FTPPassword); err != nil {
		s.logger.Warn("FTP mirror prune skipped: login failed", zap.Error(err))
		return
	}

	if schedule.FTPPath != "" && schedule.FTPPath != "/" {
		conn.ChangeDir(schedule.FTPPath)
	}

	entries, err := conn.List("")
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Type != ftp.EntryTypeFile || !strings.HasSuffix(entry.Name, backupSuffix) {
			continue
		}
		if entry.Time.Before(cutoff) {
			if err := conn.Delete(entry.Name); err != nil {
				s.logger.Warn("failed to delete mirrored artifact",
					zap.String("filename", entry.Name), zap.Error(err))
				continue
			}
			s.logger.Info("deleted old mirrored artifact", zap.String("filename", entry.Name))
		}
	}
}

// TestFTPConnection verifies FTP credentials and path access.
func TestFTPConnection(host string, port int, username, password, path string) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(username, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if path != "" && path != "/" {
		if err := conn.ChangeDir(path); err != nil {
			if err := conn.MakeDir(path); err != nil {
				return fmt.Errorf("cannot access or create directory %s: %w", path, err)
			}
		}
	}
	return nil
}
