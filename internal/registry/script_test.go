package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PicFlow/pkg/imagehost"
)

const goodPluginScript = `
plugin = {
    id: "good",
    name: "Good Host",
    version: "1.2.0",
    supportedFileTypes: [
        {mimeTypes: ["image/png", "image/webp"], description: "images"}
    ],
    parameters: [
        {key: "token", label: "API Token", type: "password", required: true},
        {key: "album", label: "Album", type: "select", defaultValue: "default",
         options: [{label: "Default", value: "default"}, {label: "Private", value: "priv"}]}
    ],
    upload: function (filePath, fileName, params, ctx) {
        var resp = ctx.upload({
            filePath: filePath,
            fileName: fileName,
            format: "form",
            url: "https://api.example.com/upload",
            headers: {"Authorization": "Bearer " + params.token}
        });
        return {url: resp.body.link, deleteId: resp.body.hash};
    },
    remove: function (deleteId, params, ctx) {
        return {success: true, message: "removed " + deleteId};
    }
}
`

type recordingUploader struct {
	gotOpts  imagehost.ProxyUploadOptions
	response *imagehost.ProxyUploadResponse
	err      error
}

func (u *recordingUploader) Upload(_ context.Context, opts imagehost.ProxyUploadOptions) (*imagehost.ProxyUploadResponse, error) {
	u.gotOpts = opts
	return u.response, u.err
}

func testRuntime(uploader *recordingUploader) *imagehost.RuntimeContext {
	return &imagehost.RuntimeContext{
		Uploader: uploader,
		Log:      zap.NewNop().Sugar(),
	}
}

func loadTestPlugin(t *testing.T, body string) imagehost.Host {
	t.Helper()
	path := writeScript(t, t.TempDir(), "good.js", body)
	host, err := LoadScriptHost("good", path, zap.NewNop())
	require.NoError(t, err)
	return host
}

func TestLoadScriptHost_ParsesDescriptor(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, goodPluginScript)
	desc := host.Descriptor()

	assert.Equal(t, "good", desc.ID)
	assert.Equal(t, "Good Host", desc.Name)
	assert.Equal(t, "1.2.0", desc.Version)
	assert.True(t, desc.AcceptsWebP())

	require.Len(t, desc.Parameters, 2)
	assert.Equal(t, "token", desc.Parameters[0].Key)
	assert.Equal(t, imagehost.ParameterPassword, desc.Parameters[0].Type)
	assert.True(t, desc.Parameters[0].Required)
	assert.Equal(t, "default", desc.Parameters[1].Default)
	require.Len(t, desc.Parameters[1].Options, 2)
	assert.Equal(t, "priv", desc.Parameters[1].Options[1].Value)
}

func TestLoadScriptHost_IDDefaultsToFileStem(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, `
plugin = {
    upload: function () { return {url: "u"}; },
    remove: function () {}
}
`)
	assert.Equal(t, "good", host.Descriptor().ID, "missing id falls back to the script stem")
}

func TestLoadScriptHost_RejectsBrokenScripts(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"syntax error":          "function {{{",
		"no plugin object":      "var unrelated = 1;",
		"upload not a function": `plugin = {id: "x", upload: "nope", remove: function () {}}`,
		"remove missing":        `plugin = {id: "x", upload: function () {}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := writeScript(t, t.TempDir(), "bad.js", body)
			_, err := LoadScriptHost("bad", path, zap.NewNop())
			require.Error(t, err)
			assert.ErrorIs(t, err, imagehost.ErrInvalidPlugin)
		})
	}
}

func TestScriptHost_UploadThroughProxy(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, goodPluginScript)
	uploader := &recordingUploader{
		response: &imagehost.ProxyUploadResponse{
			Status: 200,
			Body: map[string]any{
				"link": "https://i.example.com/abc.png",
				"hash": "abc123",
			},
		},
	}

	res, err := host.Upload(context.Background(), imagehost.UploadRequest{
		FilePath: "/tmp/pic.png",
		FileName: "pic.png",
		Params:   map[string]any{"token": "sekrit"},
	}, testRuntime(uploader))
	require.NoError(t, err)

	assert.Equal(t, "https://i.example.com/abc.png", res.URL)
	assert.Equal(t, "abc123", res.DeleteID)

	assert.Equal(t, "/tmp/pic.png", uploader.gotOpts.FilePath)
	assert.Equal(t, imagehost.FormatForm, uploader.gotOpts.Format)
	assert.Equal(t, "Bearer sekrit", uploader.gotOpts.Headers["Authorization"])
}

func TestScriptHost_UploadWithoutURLFails(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, `
plugin = {
    id: "nourl",
    upload: function () { return {deleteId: "x"}; },
    remove: function () {}
}
`)
	_, err := host.Upload(context.Background(), imagehost.UploadRequest{}, testRuntime(&recordingUploader{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}

func TestScriptHost_ThrownErrorsAreReadable(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, `
plugin = {
    id: "thrower",
    upload: function () { throw new Error("token expired"); },
    remove: function () {}
}
`)
	_, err := host.Upload(context.Background(), imagehost.UploadRequest{}, testRuntime(&recordingUploader{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestScriptHost_Remove(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, goodPluginScript)
	res, err := host.Remove(context.Background(), imagehost.RemoveRequest{DeleteID: "abc123"},
		testRuntime(&recordingUploader{}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "removed abc123", res.Message)
}

func TestScriptHost_RemoveReturningNothingIsSuccess(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, `
plugin = {
    id: "silent",
    upload: function () { return {url: "u"}; },
    remove: function () {}
}
`)
	res, err := host.Remove(context.Background(), imagehost.RemoveRequest{DeleteID: "x"},
		testRuntime(&recordingUploader{}))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestScriptHost_CancellationInterruptsScript(t *testing.T) {
	t.Parallel()

	host := loadTestPlugin(t, `
plugin = {
    id: "spinner",
    upload: function () { while (true) {} },
    remove: function () {}
}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := host.Upload(ctx, imagehost.UploadRequest{}, testRuntime(&recordingUploader{}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
