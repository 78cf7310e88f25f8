package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

type readAttachmentArgs struct {
	Path string `json:"path" jsonschema:"description=Vault-relative path to the attachment (e.g. 'Attachments/diagram.png')"`
}

func readAttachmentTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("read_attachment", track(e, "read_attachment", e.readAttachment),
		mcpservice.WithToolDescription("Read a binary attachment (image, PDF, etc.) from the vault. Images are returned as base64 image content that AI models can see. Non-image files return metadata only."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) readAttachment(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[readAttachmentArgs]) error {
	p := r.Args().Path
	ent, err := e.lookupFile(ctx, "read_attachment", p)
	if err != nil {
		return err
	}
	data, err := e.Vault.ReadBinary(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	mimeType := vault.MimeType(ent.Ext())
	if vault.IsImage(mimeType) {
		return w.AppendBlocks(mcp.ContentBlock{
			Type:     mcp.ContentTypeImage,
			Data:     base64.StdEncoding.EncodeToString(data),
			MimeType: mimeType,
		})
	}
	b, err := json.Marshal(struct {
		Path      string `json:"path"`
		MimeType  string `json:"mimeType"`
		SizeBytes int    `json:"sizeBytes"`
	}{Path: p, MimeType: mimeType, SizeBytes: len(data)})
	if err != nil {
		return err
	}
	return w.AppendText(string(b))
}

type addAttachmentArgs struct {
	Filename string `json:"filename" jsonschema:"description=Filename with extension (e.g. 'diagram.png')"`
	Data     string `json:"data" jsonschema:"description=Base64-encoded file content"`
	Folder   string `json:"folder,omitempty" jsonschema:"description=Optional vault folder to save into (e.g. 'Attachments'). If omitted the configured attachment folder is used."`
}

func addAttachmentTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("add_attachment", track(e, "add_attachment", e.addAttachment),
		mcpservice.WithToolDescription("Save a binary attachment (image, PDF, etc.) to the vault from base64-encoded data. Returns the vault-relative path for embedding as ![[path]]."),
		mcpservice.WithToolAnnotations(Write),
	)
}

func (e *Env) addAttachment(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[addAttachmentArgs]) error {
	args := r.Args()
	if len(args.Data) > MaxAttachmentSize {
		return fmt.Errorf("Attachment data exceeds maximum size of %d bytes", MaxAttachmentSize)
	}
	if args.Filename == "" || path.Base(args.Filename) != args.Filename {
		return errors.New("filename must be a plain file name")
	}

	var target string
	if args.Folder != "" {
		if !e.Rules.IsPathAllowed(args.Folder) {
			e.warn(ctx, "add_attachment: folder access denied", "folder", args.Folder)
			return ErrAccessDenied
		}
		if ent, err := e.Vault.Stat(args.Folder); err != nil || !ent.IsDir {
			// A concurrent create or a file in the way surfaces on write.
			_ = e.Vault.CreateFolder(args.Folder)
		}
		folder, _ := vault.Clean(args.Folder)
		target = path.Join(folder, args.Filename)
	} else {
		target = e.Vault.AvailablePath(e.Vault.AttachmentFolder(), args.Filename)
	}
	if !e.Rules.IsPathAllowed(target) {
		e.warn(ctx, "add_attachment: target path access denied", "targetPath", target)
		return ErrAccessDenied
	}

	data, err := base64.StdEncoding.DecodeString(args.Data)
	if err != nil {
		return fmt.Errorf("data is not valid base64: %w", err)
	}
	if err := e.Vault.CreateBinary(target, data); err != nil {
		switch {
		case errors.Is(err, vault.ErrExists):
			return fmt.Errorf("File already exists at %s", target)
		case errors.Is(err, vault.ErrInvalidPath), errors.Is(err, vault.ErrNotFound):
			return ErrAccessDenied
		}
		return err
	}
	return w.AppendText("Created attachment at " + target)
}
