package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript masks the most common automation tells before page scripts run.
const stealthScript = `
(function() {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    delete Object.getPrototypeOf(navigator).webdriver;

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });

    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, enumerable: true });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = { connect: function() {}, sendMessage: function() {} };
    }

    const originalQuery = Permissions.prototype.query;
    Permissions.prototype.query = function(parameters) {
        if (parameters.name === 'notifications') {
            return Promise.resolve({ state: Notification.permission });
        }
        return originalQuery.call(this, parameters);
    };

    if (navigator.hardwareConcurrency === 0) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
    }
})();
`

// allocatorOptions returns Chrome flags for a browser that looks like a
// regular desktop session. headless toggles the window.
func allocatorOptions(headless bool, userAgent string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	return opts
}

// injectStealth registers stealthScript for every new document in the tab.
func injectStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
