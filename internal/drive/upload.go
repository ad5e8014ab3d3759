package drive

import (
	"context"
	"fmt"
	"hash/adler32"
	"strconv"
)

// SmallUploadLimit is the largest payload accepted by the single-shot
// upload_all endpoint. Files above this use the prepare/part/finish flow.
const SmallUploadLimit = 20 * 1024 * 1024

// UploadAll uploads a whole small file in one multipart POST and returns
// the new file token. data must be at most SmallUploadLimit bytes.
func (c *Client) UploadAll(ctx context.Context, fileName, parentToken string, data []byte) (string, error) {
	fields := map[string]string{
		"file_name":   fileName,
		"parent_type": "explorer",
		"parent_node": parentToken,
		"size":        strconv.Itoa(len(data)),
	}

	body, err := c.DoMultipart(ctx, "/open-apis/drive/v1/files/upload_all", fields, "file", fileName, data)
	if err != nil {
		return "", err
	}

	var result struct {
		FileToken string `json:"file_token"`
	}

	if err := decodeData(body, &result); err != nil {
		return "", err
	}

	return result.FileToken, nil
}

// UploadPrepare opens a chunked upload session. The server dictates the
// block size and total block count.
func (c *Client) UploadPrepare(ctx context.Context, fileName, parentToken string, size int64) (PrepareResult, error) {
	body, err := c.Do(ctx, "POST", "/open-apis/drive/v1/files/upload_prepare", nil, map[string]any{
		"file_name":   fileName,
		"parent_type": "explorer",
		"parent_node": parentToken,
		"size":        size,
	})
	if err != nil {
		return PrepareResult{}, err
	}

	var result PrepareResult
	if err := decodeData(body, &result); err != nil {
		return PrepareResult{}, err
	}

	return result, nil
}

// UploadPart submits one chunk of a prepared upload. seq starts at 0 and
// must be strictly sequential; the server acknowledges each part before
// the next may be sent. The chunk is checksummed with Adler-32.
func (c *Client) UploadPart(ctx context.Context, uploadID string, seq int, fileName string, chunk []byte) error {
	fields := map[string]string{
		"upload_id": uploadID,
		"seq":       strconv.Itoa(seq),
		"size":      strconv.Itoa(len(chunk)),
		"checksum":  strconv.FormatUint(uint64(adler32.Checksum(chunk)), 10),
	}

	partName := fmt.Sprintf("%s-%d", fileName, seq)

	body, err := c.DoMultipart(ctx, "/open-apis/drive/v1/files/upload_part", fields, "file", partName, chunk)
	if err != nil {
		return err
	}

	return decodeData(body, nil)
}

// UploadFinish seals a chunked upload and returns the new file token.
// blockNum is the number of parts actually sent.
func (c *Client) UploadFinish(ctx context.Context, uploadID string, blockNum int) (string, error) {
	body, err := c.Do(ctx, "POST", "/open-apis/drive/v1/files/upload_finish", nil, map[string]any{
		"upload_id": uploadID,
		"block_num": blockNum,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		FileToken string `json:"file_token"`
	}

	if err := decodeData(body, &result); err != nil {
		return "", err
	}

	return result.FileToken, nil
}
