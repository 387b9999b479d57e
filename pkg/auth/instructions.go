package auth

// CookieExportGuide explains how to produce the file accepted by ImportCookies
const CookieExportGuide = `Export the session cookies of a logged-in browser tab:

  1. Log in to the site in your browser with the scraping account.
  2. Use a cookie export extension (for example "Cookie-Editor") and export
     the cookies for the site as JSON.
  3. Save the export to a file and import it:

       harvester accounts import <username> cookies.json

The export must contain the auth_token and ct0 cookies. Lists of
{"name","value"} objects, {"cookies": [...]} wrappers and flat
{"name": "value"} maps are all accepted.

Log out of the browser session only after the account stops being used:
logging out invalidates auth_token.`
